package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket describes a token bucket: Rate tokens per second refill up to
// Burst. TTL bounds how long an idle bucket lingers in Redis.
type Bucket struct {
	Rate  float64
	Burst int
	TTL   time.Duration
}

// PerMinute builds a bucket refilled at ratePerMinute. Idle buckets live
// long enough to refill completely.
func PerMinute(ratePerMinute, burst int) Bucket {
	b := Bucket{Rate: float64(ratePerMinute) / 60.0, Burst: burst}
	b.TTL = b.refillTime() + time.Minute
	return b
}

// PerSecond builds a bucket refilled at ratePerSecond.
func PerSecond(ratePerSecond, burst int) Bucket {
	b := Bucket{Rate: float64(ratePerSecond), Burst: burst}
	b.TTL = b.refillTime() + 5*time.Second
	return b
}

// refillTime is how long an empty bucket takes to fill.
func (b Bucket) refillTime() time.Duration {
	if b.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Burst) / b.Rate * float64(time.Second))
}

var errInvalidBucket = errors.New("rate limit bucket needs a positive rate and burst")

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and takes one token atomically.
// Times are in milliseconds; it returns {allowed, retry_after_ms, tokens_left}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per millisecond
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'ts')
	local tokens = tonumber(data[1]) or burst
	local ts = tonumber(data[2]) or now

	if now > ts then
		tokens = math.min(burst, tokens + (now - ts) * rate)
	end

	local allowed = 0
	local retry_after = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_after = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', key, 'tokens', tokens, 'ts', now)
	redis.call('PEXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// CheckUserRateLimit takes a token from the user's bucket for scope.
// scope separates buckets of different endpoints for the same user.
func (c *Cache) CheckUserRateLimit(ctx context.Context, scope, userID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	return c.Take(ctx, c.key("ratelimit", "user", scope, userID), PerMinute(ratePerMinute, burst))
}

// CheckIPRateLimit takes a token from the client IP's bucket. The IP is
// hashed so raw addresses never reach Redis.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	return c.Take(ctx, c.key("ratelimit", "ip", hashIP(ip)), PerSecond(ratePerSecond, burst))
}

// Take runs the token bucket for key. Callers decide whether a Redis
// error fails open.
func (c *Cache) Take(ctx context.Context, key string, b Bucket) (*RateLimitResult, error) {
	if b.Rate <= 0 || b.Burst <= 0 {
		return nil, errInvalidBucket
	}

	now := time.Now()
	reply, err := tokenBucketScript.Run(ctx, c.client,
		[]string{key},
		b.Rate/1000.0, b.Burst, now.UnixMilli(), b.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("token bucket %s: %w", key, err)
	}

	return bucketResult(reply, b, now)
}

// bucketResult interprets the script reply.
func bucketResult(reply []int64, b Bucket, now time.Time) (*RateLimitResult, error) {
	if len(reply) != 3 {
		return nil, fmt.Errorf("token bucket: unexpected reply %v", reply)
	}

	remaining := reply[2]
	missing := float64(int64(b.Burst) - remaining)
	resetAt := now.Add(time.Duration(missing / b.Rate * float64(time.Second)))

	return &RateLimitResult{
		Allowed:    reply[0] == 1,
		Limit:      b.Burst,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: time.Duration(reply[1]) * time.Millisecond,
	}, nil
}

// hashIP creates a truncated SHA256 hash of an IP address.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
