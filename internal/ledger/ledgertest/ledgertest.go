// Package ledgertest provides a conformance suite every Ledger backend must pass.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opef/betalist/internal/email"
	"github.com/opef/betalist/internal/ledger"
)

// Factory returns an empty ledger for one subtest.
type Factory func(t *testing.T) ledger.Ledger

// Run exercises the Exists/Append/Count/List contract against newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Helper()

	t.Run("empty", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		n, err := l.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		records, err := l.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		exists, err := l.Exists(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("append then exists", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		before := time.Now().UTC().Add(-time.Second)
		rec, err := l.Append(ctx, "test@example.com")
		require.NoError(t, err)
		require.NotNil(t, rec)

		assert.Equal(t, "test@example.com", rec.Email)
		assert.False(t, rec.CreatedAt.Before(before), "CreatedAt should be set to the insertion time")
		assert.Equal(t, rec.CreatedAt, rec.CreatedAt.Truncate(time.Millisecond), "CreatedAt should have millisecond precision")

		exists, err := l.Exists(ctx, "test@example.com")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = l.Exists(ctx, "other@example.com")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		_, err := l.Append(ctx, "dup@example.com")
		require.NoError(t, err)

		_, err = l.Append(ctx, "dup@example.com")
		assert.ErrorIs(t, err, ledger.ErrDuplicateKey)

		n, err := l.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("longest valid address", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const domain = "@example.com"
		addr := strings.Repeat("x", email.MaxLength-len(domain)) + domain
		normalized, err := email.Validate(addr)
		require.NoError(t, err)

		rec, err := l.Append(ctx, normalized)
		require.NoError(t, err)
		assert.Equal(t, addr, rec.Email)

		exists, err := l.Exists(ctx, addr)
		require.NoError(t, err)
		assert.True(t, exists)

		records, err := l.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, addr, records[0].Email)
	})

	t.Run("count matches list", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const total = 7
		for i := 0; i < total; i++ {
			_, err := l.Append(ctx, fmt.Sprintf("user%d@example.com", i))
			require.NoError(t, err)
		}

		n, err := l.Count(ctx)
		require.NoError(t, err)
		records, err := l.List(ctx)
		require.NoError(t, err)

		assert.Equal(t, total, n)
		assert.Len(t, records, total)
	})

	t.Run("list newest first", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		emails := []string{"first@example.com", "second@example.com", "third@example.com"}
		appended := make(map[string]time.Time, len(emails))
		for _, e := range emails {
			rec, err := l.Append(ctx, e)
			require.NoError(t, err)
			appended[e] = rec.CreatedAt
		}

		records, err := l.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, len(emails))

		assert.Equal(t, "third@example.com", records[0].Email)
		assert.Equal(t, "second@example.com", records[1].Email)
		assert.Equal(t, "first@example.com", records[2].Email)

		for i, rec := range records {
			assert.True(t, rec.CreatedAt.Equal(appended[rec.Email]), "CreatedAt for %s changed after insertion", rec.Email)
			if i > 0 {
				assert.False(t, rec.CreatedAt.After(records[i-1].CreatedAt), "list is not ordered by CreatedAt descending")
			}
		}
	})

	t.Run("concurrent same email", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			dupes     int
			others    []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Append(ctx, "race@example.com")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, ledger.ErrDuplicateKey):
					dupes++
				default:
					others = append(others, err)
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, workers-1, dupes)

		n, err := l.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("concurrent distinct emails", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := l.Append(ctx, fmt.Sprintf("worker%d@example.com", i)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Append failed: %v", err)
		}

		n, err := l.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, workers, n)

		records, err := l.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, workers)
	})
}
