package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Signups       map[string]uint64
	Listings      map[string]uint64
	LedgerOps     map[string]uint64
	LedgerErrors  map[string]uint64
	LedgerCorrupt uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu            sync.Mutex
	signups       map[string]uint64
	listings      map[string]uint64
	ledgerOps     map[string]uint64
	ledgerErrors  map[string]uint64
	ledgerCorrupt uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		signups:      make(map[string]uint64),
		listings:     make(map[string]uint64),
		ledgerOps:    make(map[string]uint64),
		ledgerErrors: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Signups:       copyCounts(m.signups),
		Listings:      copyCounts(m.listings),
		LedgerOps:     copyCounts(m.ledgerOps),
		LedgerErrors:  copyCounts(m.ledgerErrors),
		LedgerCorrupt: m.ledgerCorrupt,
	}
}

// IncSignup increments the signup counter for outcome.
func (m *InMemoryRecorder) IncSignup(outcome string) {
	m.mu.Lock()
	m.signups[outcome]++
	m.mu.Unlock()
}

// IncListing increments the listing counter for outcome.
func (m *InMemoryRecorder) IncListing(outcome string) {
	m.mu.Lock()
	m.listings[outcome]++
	m.mu.Unlock()
}

// ObserveLedgerOp counts a ledger operation and its failure, if any.
func (m *InMemoryRecorder) ObserveLedgerOp(op string, err error, duration time.Duration) {
	m.mu.Lock()
	m.ledgerOps[op]++
	if err != nil {
		m.ledgerErrors[op]++
	}
	m.mu.Unlock()
}

// IncLedgerCorrupt increments the corrupt state counter.
func (m *InMemoryRecorder) IncLedgerCorrupt() {
	m.mu.Lock()
	m.ledgerCorrupt++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
