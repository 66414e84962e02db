package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exposes Recorder events as Prometheus collectors.
type PrometheusRecorder struct {
	signups        *prometheus.CounterVec
	listings       *prometheus.CounterVec
	ledgerDuration *prometheus.HistogramVec
	ledgerCorrupt  prometheus.Counter
}

// NewPrometheus registers the waitlist collectors on reg.
// backend is attached as a constant label to ledger metrics.
func NewPrometheus(reg prometheus.Registerer, backend string) *PrometheusRecorder {
	ledgerLabels := prometheus.Labels{"backend": backend}

	p := &PrometheusRecorder{
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waitlist_signup_requests_total",
			Help: "Signup requests by outcome.",
		}, []string{"outcome"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waitlist_listing_requests_total",
			Help: "Listing requests by outcome.",
		}, []string{"outcome"}),
		ledgerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "waitlist_ledger_operation_duration_seconds",
			Help:        "Ledger operation latency by operation and status.",
			ConstLabels: ledgerLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"op", "status"}),
		ledgerCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "waitlist_ledger_corrupt_total",
			Help:        "Times the persisted ledger could not be parsed.",
			ConstLabels: ledgerLabels,
		}),
	}

	reg.MustRegister(p.signups, p.listings, p.ledgerDuration, p.ledgerCorrupt)
	return p
}

// IncSignup increments the signup counter for outcome.
func (p *PrometheusRecorder) IncSignup(outcome string) {
	p.signups.WithLabelValues(outcome).Inc()
}

// IncListing increments the listing counter for outcome.
func (p *PrometheusRecorder) IncListing(outcome string) {
	p.listings.WithLabelValues(outcome).Inc()
}

// ObserveLedgerOp records the duration of a ledger operation.
func (p *PrometheusRecorder) ObserveLedgerOp(op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.ledgerDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// IncLedgerCorrupt increments the corrupt state counter.
func (p *PrometheusRecorder) IncLedgerCorrupt() {
	p.ledgerCorrupt.Inc()
}
