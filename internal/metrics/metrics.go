// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Signup outcomes.
const (
	SignupCreated            = "created"
	SignupDuplicate          = "duplicate"
	SignupMissingOrWrongType = "missing_or_wrong_type"
	SignupInvalidFormat      = "invalid_format"
	SignupBadRequest         = "bad_request"
	SignupMethodNotAllowed   = "method_not_allowed"
	SignupError              = "error"
)

// Listing outcomes.
const (
	ListingSuccess          = "success"
	ListingUnauthorized     = "unauthorized"
	ListingBadRequest       = "bad_request"
	ListingMethodNotAllowed = "method_not_allowed"
	ListingError            = "error"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Endpoint outcomes
	IncSignup(outcome string)
	IncListing(outcome string)

	// Ledger operations
	ObserveLedgerOp(op string, err error, duration time.Duration)
	IncLedgerCorrupt()
}
