// Package ledger defines the append-only signup store and its in-process backends.
//
// Every backend satisfies the same Exists/Append/Count/List contract so the
// handlers never know which store sits behind them. Networked backends live
// next to their connection code: Postgres in the repository package, Redis in
// the cache package.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/opef/betalist/internal/model"
)

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Operation names used in errors and metrics.
const (
	OpExists = "exists"
	OpAppend = "append"
	OpCount  = "count"
	OpList   = "list"
)

// Ledger errors.
var (
	ErrDuplicateKey       = errors.New("email already registered")
	ErrStorageUnavailable = errors.New("ledger storage unavailable")
	ErrCorruptState       = errors.New("ledger state is corrupt")
)

// Ledger is an append-only collection of signup records unique by email.
// Callers pass emails already normalized by the email package.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Exists reports whether a record with exactly this email is stored.
	Exists(ctx context.Context, email string) (bool, error)
	// Append stores a new record stamped with the current time.
	// Returns ErrDuplicateKey if the email is already present.
	Append(ctx context.Context, email string) (*model.SignupRecord, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// List returns every record, newest first.
	List(ctx context.Context) ([]*model.SignupRecord, error)
}

// OpError records a failed backend operation.
// It matches ErrStorageUnavailable as well as the underlying cause.
type OpError struct {
	Backend string
	Op      string
	Err     error
}

// Unavailable wraps err as an OpError for the given backend and operation.
func Unavailable(backend, op string, err error) error {
	return &OpError{Backend: backend, Op: op, Err: err}
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s ledger %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *OpError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}
