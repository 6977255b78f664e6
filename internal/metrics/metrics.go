// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels for generation transactions.
const (
	OutcomeDelivered     = "delivered"
	OutcomeRefunded      = "refunded"
	OutcomePersistFailed = "persist_failed"
	OutcomeRefundFailed  = "refund_failed"
	OutcomeRejected      = "rejected" // validation, auth or balance failure before the engine call
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// HTTP metrics
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)

	// Generation metrics
	IncGeneration(outcome string)
	// result is "delivered" or a failure reason.
	ObserveEngineDuration(result string, duration time.Duration)
	// kind is debit or credit; status is ok, insufficient, not_found or error.
	IncLedgerOperation(kind, status string)

	// Auth metrics
	IncPrincipalCacheHit()
	IncPrincipalCacheMiss()
	IncRateLimited(scope string)

	// Usage pipeline metrics
	IncUsageEventPublished(status string) // status: "success" or "dropped"
	IncUsageEventProcessed(status string) // status: "success", "failed", "skipped"
	ObserveUsageBatchSize(size int)
	ObserveUsageBatchDuration(duration time.Duration)
	SetUsageQueueDepth(depth int64)
	ObserveUsageIngestLag(lag time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
