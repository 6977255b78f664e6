package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/inkforge/inkforge/internal/model"
)

func TestHashIP_Deterministic(t *testing.T) {
	t.Parallel()

	ip := "192.168.1.100"

	hash1 := hashIP(ip)
	hash2 := hashIP(ip)

	if hash1 != hash2 {
		t.Error("Same IP should produce same hash")
	}
}

func TestHashIP_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   string
	}{
		{"IPv4", "192.168.1.1"},
		{"IPv4 localhost", "127.0.0.1"},
		{"IPv6 localhost", "::1"},
		{"IPv6 full", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"},
		{"empty", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash := hashIP(tt.ip)
			// hashIP uses first 8 bytes of SHA256, encoded as 16 hex chars
			if len(hash) != 16 {
				t.Errorf("hashIP(%q) length = %d, want 16", tt.ip, len(hash))
			}
		})
	}
}

func TestHashIP_Different(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip1  string
		ip2  string
	}{
		{"different IPv4", "192.168.1.1", "192.168.1.2"},
		{"different last octet", "10.0.0.1", "10.0.0.2"},
		{"IPv4 vs IPv6", "127.0.0.1", "::1"},
		{"public vs private", "8.8.8.8", "192.168.1.1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash1 := hashIP(tt.ip1)
			hash2 := hashIP(tt.ip2)

			if hash1 == hash2 {
				t.Errorf("Different IPs should produce different hashes: %q and %q both produced %s", tt.ip1, tt.ip2, hash1)
			}
		})
	}
}

func TestPrincipalTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      time.Duration
	}{
		{"no expiry uses default", time.Time{}, principalCacheTTL},
		{"far expiry capped at default", now.Add(24 * time.Hour), principalCacheTTL},
		{"near expiry uses remaining lifetime", now.Add(90 * time.Second), 90 * time.Second},
		{"expired token is not cached", now.Add(-time.Second), -time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := principalTTL(&model.Principal{UserID: "u", ExpiresAt: tt.expiresAt}, now)
			if got != tt.want {
				t.Errorf("principalTTL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuckets(t *testing.T) {
	t.Parallel()

	perMinute := PerMinute(30, 3)
	if perMinute.Rate != 0.5 || perMinute.Burst != 3 {
		t.Errorf("PerMinute = %+v", perMinute)
	}
	// 3 tokens at 0.5/s refill in 6s, plus the idle margin.
	if perMinute.TTL != 6*time.Second+time.Minute {
		t.Errorf("PerMinute TTL = %s", perMinute.TTL)
	}

	perSecond := PerSecond(5, 30)
	if perSecond.Rate != 5 || perSecond.TTL != 6*time.Second+5*time.Second {
		t.Errorf("PerSecond = %+v", perSecond)
	}
}

func TestBucketResult(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	b := PerSecond(2, 10)

	tests := []struct {
		name      string
		reply     []int64
		allowed   bool
		remaining int64
		retry     time.Duration
		resetAt   time.Time
	}{
		{"allowed with tokens left", []int64{1, 0, 9}, true, 9, 0, now.Add(500 * time.Millisecond)},
		{"denied", []int64{0, 500, 0}, false, 0, 500 * time.Millisecond, now.Add(5 * time.Second)},
		{"full bucket", []int64{1, 0, 10}, true, 10, 0, now},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := bucketResult(tt.reply, b, now)
			if err != nil {
				t.Fatalf("bucketResult: %v", err)
			}
			if got.Allowed != tt.allowed || got.Remaining != tt.remaining || got.RetryAfter != tt.retry {
				t.Errorf("result = %+v", got)
			}
			if !got.ResetAt.Equal(tt.resetAt) {
				t.Errorf("ResetAt = %s, want %s", got.ResetAt, tt.resetAt)
			}
			if got.Limit != 10 {
				t.Errorf("Limit = %d, want 10", got.Limit)
			}
		})
	}

	if _, err := bucketResult([]int64{1}, b, now); err == nil {
		t.Error("short reply should fail")
	}
}

func TestKeyNamespace(t *testing.T) {
	t.Parallel()

	c := newCache(nil, "")
	if got := c.key("ratelimit", "ip", hashIP("10.0.0.1")); !strings.HasPrefix(got, "inkforge:ratelimit:ip:") {
		t.Errorf("key = %q", got)
	}
	if got := newCache(nil, "staging").principalKey("abc"); got != "staging:auth:principal:abc" {
		t.Errorf("principalKey = %q", got)
	}
}
