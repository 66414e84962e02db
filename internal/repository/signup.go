package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/model"
)

// Exists reports whether email is already on the waitlist.
func (r *Repository) Exists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM signups WHERE email = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, ledger.Unavailable(ledger.BackendPostgres, ledger.OpExists, err)
	}

	return exists, nil
}

// Append inserts a signup. The unique constraint on email makes
// concurrent inserts of the same address resolve to one winner.
func (r *Repository) Append(ctx context.Context, email string) (*model.SignupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := model.NextCreatedAt(r.now(), r.last)
	id, err := ulid.New(ulid.Timestamp(createdAt), r.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate signup id: %w", err)
	}

	query := `
		INSERT INTO signups (id, email, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, id.String(), email, createdAt)
	if err != nil {
		return nil, ledger.Unavailable(ledger.BackendPostgres, ledger.OpAppend, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ledger.ErrDuplicateKey
	}

	r.last = createdAt
	return &model.SignupRecord{
		ID:        id.String(),
		Email:     email,
		CreatedAt: createdAt,
	}, nil
}

// Count returns the number of signups.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM signups`).Scan(&count); err != nil {
		return 0, ledger.Unavailable(ledger.BackendPostgres, ledger.OpCount, err)
	}
	return count, nil
}

// List returns every signup, newest first.
func (r *Repository) List(ctx context.Context) ([]*model.SignupRecord, error) {
	query := `
		SELECT id, email, created_at
		FROM signups
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, ledger.Unavailable(ledger.BackendPostgres, ledger.OpList, err)
	}

	records, err := pgx.CollectRows(rows, scanSignup)
	if err != nil {
		return nil, ledger.Unavailable(ledger.BackendPostgres, ledger.OpList, err)
	}

	return records, nil
}

// scanSignup scans a row into a SignupRecord.
func scanSignup(row pgx.CollectableRow) (*model.SignupRecord, error) {
	var rec model.SignupRecord
	if err := row.Scan(&rec.ID, &rec.Email, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
