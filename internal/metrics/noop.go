package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSignup is a no-op.
func (n *NoopRecorder) IncSignup(outcome string) {}

// IncListing is a no-op.
func (n *NoopRecorder) IncListing(outcome string) {}

// ObserveLedgerOp is a no-op.
func (n *NoopRecorder) ObserveLedgerOp(op string, err error, duration time.Duration) {}

// IncLedgerCorrupt is a no-op.
func (n *NoopRecorder) IncLedgerCorrupt() {}
