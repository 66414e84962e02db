package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/model"
)

// Instrumented decorates a Ledger with operation metrics.
type Instrumented struct {
	next    Ledger
	metrics metrics.Recorder
}

// NewInstrumented wraps next, reporting every call to rec.
// A nil rec discards the measurements.
func NewInstrumented(next Ledger, rec metrics.Recorder) *Instrumented {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &Instrumented{next: next, metrics: rec}
}

// Exists implements Ledger.
func (l *Instrumented) Exists(ctx context.Context, email string) (bool, error) {
	start := time.Now()
	ok, err := l.next.Exists(ctx, email)
	l.observe(OpExists, err, start)
	return ok, err
}

// Append implements Ledger.
func (l *Instrumented) Append(ctx context.Context, email string) (*model.SignupRecord, error) {
	start := time.Now()
	rec, err := l.next.Append(ctx, email)
	l.observe(OpAppend, err, start)
	return rec, err
}

// Count implements Ledger.
func (l *Instrumented) Count(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := l.next.Count(ctx)
	l.observe(OpCount, err, start)
	return n, err
}

// List implements Ledger.
func (l *Instrumented) List(ctx context.Context) ([]*model.SignupRecord, error) {
	start := time.Now()
	records, err := l.next.List(ctx)
	l.observe(OpList, err, start)
	return records, err
}

// Unwrap returns the decorated ledger.
func (l *Instrumented) Unwrap() Ledger {
	return l.next
}

func (l *Instrumented) observe(op string, err error, start time.Time) {
	// A duplicate is an expected outcome, not a storage failure.
	if errors.Is(err, ErrDuplicateKey) {
		err = nil
	}
	l.metrics.ObserveLedgerOp(op, err, time.Since(start))
}
