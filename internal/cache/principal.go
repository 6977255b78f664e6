package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkforge/inkforge/internal/model"
)

const (
	// principalKeyScope is the key segment for resolved principals.
	principalKeyScope = "auth:principal"
	// principalCacheTTL is the upper bound on how long a principal is cached.
	principalCacheTTL = 5 * time.Minute
)

// CachedPrincipal represents a principal stored in Redis.
type CachedPrincipal struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"` // Unix seconds
}

// GetPrincipal retrieves a cached principal by token hash.
// Returns nil if not found (cache miss).
func (c *Cache) GetPrincipal(ctx context.Context, tokenHash string) (*model.Principal, error) {
	key := c.principalKey(tokenHash)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// Cache miss is not an error
		return nil, nil //nolint:nilerr
	}

	var cached CachedPrincipal
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	p := &model.Principal{
		UserID: cached.UserID,
		Email:  cached.Email,
		Name:   cached.Name,
	}
	if cached.ExpiresAt > 0 {
		p.ExpiresAt = time.Unix(cached.ExpiresAt, 0)
		if time.Now().After(p.ExpiresAt) {
			return nil, nil
		}
	}
	return p, nil
}

// SetPrincipal caches a principal, never beyond the token's own expiry.
func (c *Cache) SetPrincipal(ctx context.Context, tokenHash string, p *model.Principal) error {
	ttl := principalTTL(p, time.Now())
	if ttl <= 0 {
		return nil
	}

	cached := CachedPrincipal{
		UserID: p.UserID,
		Email:  p.Email,
		Name:   p.Name,
	}
	if !p.ExpiresAt.IsZero() {
		cached.ExpiresAt = p.ExpiresAt.Unix()
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}

	return c.client.Set(ctx, c.principalKey(tokenHash), data, ttl).Err()
}

// DeletePrincipal removes a cached principal (e.g. on sign-out).
func (c *Cache) DeletePrincipal(ctx context.Context, tokenHash string) error {
	return c.client.Del(ctx, c.principalKey(tokenHash)).Err()
}

func (c *Cache) principalKey(tokenHash string) string {
	return c.key(principalKeyScope, tokenHash)
}

// principalTTL caps the cache TTL at the token's remaining lifetime.
func principalTTL(p *model.Principal, now time.Time) time.Duration {
	if p.ExpiresAt.IsZero() {
		return principalCacheTTL
	}
	remaining := p.ExpiresAt.Sub(now)
	if remaining < principalCacheTTL {
		return remaining
	}
	return principalCacheTTL
}
