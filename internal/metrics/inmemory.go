package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	HTTPRequests          uint64
	Generations           map[string]uint64
	EngineCalls           map[string]uint64
	EngineDurationTotalNs int64
	LedgerOperations      map[string]uint64 // keyed "kind:status"
	PrincipalCacheHits    uint64
	PrincipalCacheMisses  uint64
	RateLimited           map[string]uint64

	UsageEventsPublished      uint64
	UsageEventsDropped        uint64
	UsageEventsProcessed      uint64
	UsageEventsFailed         uint64
	UsageEventsSkipped        uint64
	UsageBatchCount           uint64
	UsageBatchDurationTotalNs int64
	UsageQueueDepth           int64
	UsageIngestLagCount       uint64
	UsageIngestLagTotalNs     int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	httpRequests          uint64
	engineDurationTotalNs int64
	principalCacheHits    uint64
	principalCacheMisses  uint64

	usageEventsPublished      uint64
	usageEventsDropped        uint64
	usageEventsProcessed      uint64
	usageEventsFailed         uint64
	usageEventsSkipped        uint64
	usageBatchCount           uint64
	usageBatchDurationTotalNs int64
	usageQueueDepth           int64
	usageIngestLagCount       uint64
	usageIngestLagTotalNs     int64

	mu          sync.Mutex
	generations map[string]uint64
	engineCalls map[string]uint64
	ledgerOps   map[string]uint64
	rateLimited map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		generations: make(map[string]uint64),
		engineCalls: make(map[string]uint64),
		ledgerOps:   make(map[string]uint64),
		rateLimited: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		HTTPRequests:          atomic.LoadUint64(&m.httpRequests),
		Generations:           copyCounts(m.generations),
		EngineCalls:           copyCounts(m.engineCalls),
		EngineDurationTotalNs: atomic.LoadInt64(&m.engineDurationTotalNs),
		LedgerOperations:      copyCounts(m.ledgerOps),
		PrincipalCacheHits:    atomic.LoadUint64(&m.principalCacheHits),
		PrincipalCacheMisses:  atomic.LoadUint64(&m.principalCacheMisses),
		RateLimited:           copyCounts(m.rateLimited),

		UsageEventsPublished:      atomic.LoadUint64(&m.usageEventsPublished),
		UsageEventsDropped:        atomic.LoadUint64(&m.usageEventsDropped),
		UsageEventsProcessed:      atomic.LoadUint64(&m.usageEventsProcessed),
		UsageEventsFailed:         atomic.LoadUint64(&m.usageEventsFailed),
		UsageEventsSkipped:        atomic.LoadUint64(&m.usageEventsSkipped),
		UsageBatchCount:           atomic.LoadUint64(&m.usageBatchCount),
		UsageBatchDurationTotalNs: atomic.LoadInt64(&m.usageBatchDurationTotalNs),
		UsageQueueDepth:           atomic.LoadInt64(&m.usageQueueDepth),
		UsageIngestLagCount:       atomic.LoadUint64(&m.usageIngestLagCount),
		UsageIngestLagTotalNs:     atomic.LoadInt64(&m.usageIngestLagTotalNs),
	}
}

// ObserveHTTPRequest counts handled requests.
func (m *InMemoryRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.httpRequests, 1)
}

// IncGeneration counts a finished generation transaction by outcome.
func (m *InMemoryRecorder) IncGeneration(outcome string) {
	m.inc(m.generations, outcome)
}

// ObserveEngineDuration counts engine calls by result and sums their duration.
func (m *InMemoryRecorder) ObserveEngineDuration(result string, duration time.Duration) {
	m.inc(m.engineCalls, result)
	atomic.AddInt64(&m.engineDurationTotalNs, duration.Nanoseconds())
}

// IncLedgerOperation counts ledger calls by kind and status.
func (m *InMemoryRecorder) IncLedgerOperation(kind, status string) {
	m.inc(m.ledgerOps, kind+":"+status)
}

// IncPrincipalCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncPrincipalCacheHit() {
	atomic.AddUint64(&m.principalCacheHits, 1)
}

// IncPrincipalCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncPrincipalCacheMiss() {
	atomic.AddUint64(&m.principalCacheMisses, 1)
}

// IncRateLimited counts rejected requests per limiter scope.
func (m *InMemoryRecorder) IncRateLimited(scope string) {
	m.inc(m.rateLimited, scope)
}

// IncUsageEventPublished increments published or dropped counters.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	if status == "dropped" {
		atomic.AddUint64(&m.usageEventsDropped, 1)
		return
	}
	atomic.AddUint64(&m.usageEventsPublished, 1)
}

// IncUsageEventProcessed increments processed counters by status.
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) {
	switch status {
	case "failed":
		atomic.AddUint64(&m.usageEventsFailed, 1)
	case "skipped":
		atomic.AddUint64(&m.usageEventsSkipped, 1)
	default:
		atomic.AddUint64(&m.usageEventsProcessed, 1)
	}
}

// ObserveUsageBatchSize records a processed batch.
func (m *InMemoryRecorder) ObserveUsageBatchSize(size int) {
	atomic.AddUint64(&m.usageBatchCount, 1)
}

// ObserveUsageBatchDuration records batch processing time.
func (m *InMemoryRecorder) ObserveUsageBatchDuration(duration time.Duration) {
	atomic.AddInt64(&m.usageBatchDurationTotalNs, duration.Nanoseconds())
}

// SetUsageQueueDepth records the pending message count.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) {
	atomic.StoreInt64(&m.usageQueueDepth, depth)
}

// ObserveUsageIngestLag records time from event to persistence.
func (m *InMemoryRecorder) ObserveUsageIngestLag(lag time.Duration) {
	atomic.AddUint64(&m.usageIngestLagCount, 1)
	atomic.AddInt64(&m.usageIngestLagTotalNs, lag.Nanoseconds())
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
