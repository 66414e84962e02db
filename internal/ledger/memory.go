package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/opef/betalist/internal/model"
)

// Memory is an ephemeral Ledger for local development.
// Records live for the process lifetime and are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	byEmail map[string]*model.SignupRecord
	records []*model.SignupRecord
	now     func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		byEmail: make(map[string]*model.SignupRecord),
		now:     model.Now,
	}
}

// Exists implements Ledger.
func (m *Memory) Exists(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byEmail[email]
	return ok, nil
}

// Append implements Ledger.
func (m *Memory) Append(ctx context.Context, email string) (*model.SignupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return nil, ErrDuplicateKey
	}

	createdAt := m.now()
	if n := len(m.records); n > 0 {
		createdAt = model.NextCreatedAt(createdAt, m.records[n-1].CreatedAt)
	}

	rec := &model.SignupRecord{
		ID:        strconv.Itoa(len(m.records) + 1),
		Email:     email,
		CreatedAt: createdAt,
	}
	m.records = append(m.records, rec)
	m.byEmail[email] = rec

	return copyRecord(rec), nil
}

// Count implements Ledger.
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records), nil
}

// List implements Ledger.
func (m *Memory) List(ctx context.Context) ([]*model.SignupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.SignupRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, copyRecord(m.records[i]))
	}
	return out, nil
}

// Ping always succeeds; memory is never unreachable.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func copyRecord(rec *model.SignupRecord) *model.SignupRecord {
	cp := *rec
	return &cp
}
