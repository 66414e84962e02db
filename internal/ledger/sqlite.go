package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opef/betalist/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite is a durable Ledger in a local SQLite database.
// Uniqueness is enforced by the schema, so concurrent writers are safe.
type SQLite struct {
	db  *sql.DB
	now func() time.Time

	// mu guards last and entropy so IDs and timestamps stay ordered.
	mu      sync.Mutex
	last    time.Time
	entropy io.Reader
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, Unavailable(BackendSQLite, "open", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s, err := NewSQLite(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an open database and ensures the schema exists.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	s := &SQLite{
		db:      db,
		now:     model.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS signups (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS signups_created_at_idx ON signups (created_at DESC, id DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return Unavailable(BackendSQLite, "migrate", err)
		}
	}
	return nil
}

// Exists implements Ledger.
func (s *SQLite) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM signups WHERE email = ?)`, email).Scan(&exists)
	if err != nil {
		return false, Unavailable(BackendSQLite, OpExists, err)
	}
	return exists, nil
}

// Append implements Ledger.
func (s *SQLite) Append(ctx context.Context, email string) (*model.SignupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := model.NextCreatedAt(s.now(), s.last)
	id, err := ulid.New(ulid.Timestamp(createdAt), s.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate signup id: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO signups (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT(email) DO NOTHING`,
		id.String(), email, model.FormatTimestamp(createdAt),
	)
	if err != nil {
		return nil, Unavailable(BackendSQLite, OpAppend, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, Unavailable(BackendSQLite, OpAppend, err)
	}
	if affected == 0 {
		return nil, ErrDuplicateKey
	}

	s.last = createdAt
	return &model.SignupRecord{ID: id.String(), Email: email, CreatedAt: createdAt}, nil
}

// Count implements Ledger.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signups`).Scan(&count); err != nil {
		return 0, Unavailable(BackendSQLite, OpCount, err)
	}
	return count, nil
}

// List implements Ledger.
func (s *SQLite) List(ctx context.Context) ([]*model.SignupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, created_at FROM signups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, Unavailable(BackendSQLite, OpList, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*model.SignupRecord, 0)
	for rows.Next() {
		var (
			rec       model.SignupRecord
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Email, &createdAt); err != nil {
			return nil, Unavailable(BackendSQLite, OpList, err)
		}
		rec.CreatedAt, err = model.ParseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("%w: signup %s has timestamp %q", ErrCorruptState, rec.ID, createdAt)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(BackendSQLite, OpList, err)
	}
	return records, nil
}

// Ping checks database connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
