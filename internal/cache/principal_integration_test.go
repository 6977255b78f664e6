//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/testutil"
)

func TestIntegrationPrincipalCache_RoundTrip(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, testutil.RequireEnv(t, "REDIS_URL"))
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	missing, err := c.GetPrincipal(ctx, "absent")
	if err != nil || missing != nil {
		t.Fatalf("miss = %+v, %v; want nil, nil", missing, err)
	}

	p := &model.Principal{UserID: "user-1", Email: "ada@example.com", ExpiresAt: time.Now().Add(time.Hour)}
	if err := c.SetPrincipal(ctx, "hash-1", p); err != nil {
		t.Fatalf("SetPrincipal: %v", err)
	}

	got, err := c.GetPrincipal(ctx, "hash-1")
	if err != nil || got == nil {
		t.Fatalf("GetPrincipal = %+v, %v", got, err)
	}
	if got.UserID != "user-1" || got.Email != "ada@example.com" {
		t.Errorf("unexpected principal: %+v", got)
	}

	ttl, err := c.Client().TTL(ctx, c.principalKey("hash-1")).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > principalCacheTTL {
		t.Errorf("ttl = %s, want within (0, %s]", ttl, principalCacheTTL)
	}

	if err := c.DeletePrincipal(ctx, "hash-1"); err != nil {
		t.Fatalf("DeletePrincipal: %v", err)
	}
	if got, _ := c.GetPrincipal(ctx, "hash-1"); got != nil {
		t.Errorf("principal still cached after delete")
	}
}

func TestIntegrationPrincipalCache_ExpiredTokenNotCached(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, testutil.RequireEnv(t, "REDIS_URL"))
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	p := &model.Principal{UserID: "user-1", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := c.SetPrincipal(ctx, "hash-expired", p); err != nil {
		t.Fatalf("SetPrincipal: %v", err)
	}
	if got, _ := c.GetPrincipal(ctx, "hash-expired"); got != nil {
		t.Errorf("expired principal was cached: %+v", got)
	}
}
