// Package cache provides the Redis-backed signup ledger and rate limiter.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/model"
)

// DefaultKeyPrefix namespaces every key this package writes.
const DefaultKeyPrefix = "betalist:"

// Options configures a Cache.
type Options struct {
	// KeyPrefix is prepended to every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// Strict surfaces unparsable stored timestamps as ledger.ErrCorruptState.
	Strict  bool
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Cache provides Redis access methods.
type Cache struct {
	client  *redis.Client
	prefix  string
	strict  bool
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// New creates a new Cache with a Redis client.
func New(ctx context.Context, redisURL string, opts Options) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Connection pool settings
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts Options) *Cache {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NewNoop()
	}

	return &Cache{
		client:  client,
		prefix:  prefix,
		strict:  opts.Strict,
		logger:  logger,
		metrics: rec,
		now:     model.Now,
	}
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client.
// Use sparingly - prefer adding methods to Cache.
func (c *Cache) Client() *redis.Client {
	return c.client
}
