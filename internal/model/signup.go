// Package model defines domain entities for the application.
package model

import "time"

// TimestampLayout is the wire format for signup timestamps.
// Matches JavaScript's Date.prototype.toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SignupRecord is one registered email on the waitlist.
type SignupRecord struct {
	ID        string    `json:"-"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"-"`
}

// Timestamp returns CreatedAt serialized in TimestampLayout.
func (s *SignupRecord) Timestamp() string {
	return FormatTimestamp(s.CreatedAt)
}

// FormatTimestamp renders t as UTC ISO-8601 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 timestamp as written by FormatTimestamp.
// Any RFC 3339 value is accepted.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Now returns the current time truncated to the precision stored by ledgers.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NextCreatedAt returns a creation time that never precedes last.
// Keeps CreatedAt non-decreasing in insertion order under clock skew.
func NextCreatedAt(now, last time.Time) time.Time {
	if now.Before(last) {
		return last
	}
	return now
}
