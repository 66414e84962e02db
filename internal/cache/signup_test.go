package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/ledger/ledgertest"
	"github.com/opef/betalist/internal/metrics"
)

func newTestCache(t *testing.T, opts Options) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewWithClient(client, opts), mr
}

func TestCache_LedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		c, _ := newTestCache(t, Options{})
		return c
	})
}

func TestCache_KeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	a := NewWithClient(client, Options{KeyPrefix: "a:"})
	b := NewWithClient(client, Options{KeyPrefix: "b:"})

	_, err := a.Append(ctx, "one@example.com")
	require.NoError(t, err)

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.True(t, mr.Exists("a:signups:ts"))
	assert.False(t, mr.Exists("b:signups:ts"))
}

func TestCache_DefaultKeyPrefix(t *testing.T) {
	c, mr := newTestCache(t, Options{})

	_, err := c.Append(context.Background(), "one@example.com")
	require.NoError(t, err)

	got := mr.HGet(DefaultKeyPrefix+signupTimesKey, "one@example.com")
	assert.NotEmpty(t, got)
}

func TestCache_CreatedAtNeverGoesBackwards(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	first, err := c.Append(ctx, "first@example.com")
	require.NoError(t, err)

	// Clock steps back.
	c.now = func() time.Time { return base.Add(-time.Minute) }
	second, err := c.Append(ctx, "second@example.com")
	require.NoError(t, err)

	assert.True(t, first.CreatedAt.Equal(base))
	assert.False(t, second.CreatedAt.Before(first.CreatedAt))

	records, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second@example.com", records[0].Email)
	assert.Equal(t, "first@example.com", records[1].Email)
}

func TestCache_CorruptTimestampNonStrict(t *testing.T) {
	rec := metrics.NewInMemory()
	c, mr := newTestCache(t, Options{Metrics: rec})
	ctx := context.Background()

	_, err := c.Append(ctx, "good@example.com")
	require.NoError(t, err)
	_, err = c.Append(ctx, "bad@example.com")
	require.NoError(t, err)

	mr.HSet(DefaultKeyPrefix+signupTimesKey, "bad@example.com", "not-a-number")

	records, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "bad@example.com", records[0].Email)
	assert.Equal(t, int64(0), records[0].CreatedAt.UnixMilli())

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(records), n)

	assert.Equal(t, uint64(1), rec.Snapshot().LedgerCorrupt)
}

func TestCache_CorruptTimestampStrict(t *testing.T) {
	c, mr := newTestCache(t, Options{Strict: true})
	ctx := context.Background()

	_, err := c.Append(ctx, "bad@example.com")
	require.NoError(t, err)
	mr.HDel(DefaultKeyPrefix+signupTimesKey, "bad@example.com")

	_, err = c.List(ctx)
	assert.True(t, errors.Is(err, ledger.ErrCorruptState), "got %v", err)
}

func TestCache_UnavailableWhenServerDown(t *testing.T) {
	c, mr := newTestCache(t, Options{})
	mr.Close()

	ctx := context.Background()
	_, err := c.Exists(ctx, "x@example.com")
	assert.True(t, errors.Is(err, ledger.ErrStorageUnavailable), "Exists: %v", err)

	_, err = c.Append(ctx, "x@example.com")
	assert.True(t, errors.Is(err, ledger.ErrStorageUnavailable), "Append: %v", err)

	_, err = c.Count(ctx)
	assert.True(t, errors.Is(err, ledger.ErrStorageUnavailable), "Count: %v", err)

	_, err = c.List(ctx)
	assert.True(t, errors.Is(err, ledger.ErrStorageUnavailable), "List: %v", err)

	assert.Error(t, c.Ping(ctx))
}
