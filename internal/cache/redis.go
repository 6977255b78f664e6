// Package cache provides the Redis-backed principal cache and rate limiter.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key this package writes, so the usage
// stream and cache entries of one deployment can share a Redis database.
const DefaultNamespace = "inkforge"

// Options tune the Redis client. Zero values use the defaults below.
type Options struct {
	Namespace    string
	PoolSize     int
	MinIdleConns int
}

const (
	defaultPoolSize     = 10
	defaultMinIdleConns = 2
)

// Cache provides Redis cache access methods.
type Cache struct {
	client    *redis.Client
	namespace string
}

// New connects with default Options.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	return NewWithOptions(ctx, redisURL, Options{})
}

// NewWithOptions parses redisURL, applies opts and verifies the connection.
func NewWithOptions(ctx context.Context, redisURL string, opts Options) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = defaultPoolSize
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	opt.MinIdleConns = defaultMinIdleConns
	if opts.MinIdleConns > 0 {
		opt.MinIdleConns = opts.MinIdleConns
	}
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newCache(client, opts.Namespace), nil
}

func newCache(client *redis.Client, namespace string) *Cache {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Cache{client: client, namespace: namespace}
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client. The usage stream shares it.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// key joins parts under the cache namespace: "inkforge:auth:principal:<hash>".
func (c *Cache) key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}
