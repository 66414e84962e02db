// Package email normalizes and validates signup email addresses.
package email

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLength is the longest accepted address in characters, after normalization.
// Every ledger backend must be able to store an address of this length.
const MaxLength = 320

// Validation errors.
var (
	ErrMissingOrWrongType = errors.New("email is missing or not a string")
	ErrInvalidFormat      = errors.New("email has an invalid format")
)

// Reason codes for logs and metrics.
const (
	ReasonMissingOrWrongType = "missing_or_wrong_type"
	ReasonInvalidFormat      = "invalid_format"
)

// shapePattern requires local@domain.tld with no whitespace or '@' in any segment.
// \s in RE2 is ASCII only, so vertical tab and Unicode separators are listed explicitly.
var shapePattern = regexp.MustCompile(`^[^\s\v\p{Z}@]+@[^\s\v\p{Z}@]+\.[^\s\v\p{Z}@]+$`)

// Validate normalizes raw and checks its shape.
// raw is whatever the request decoded to; only strings can pass.
func Validate(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", ErrMissingOrWrongType
	}

	normalized := Normalize(s)
	if utf8.RuneCountInString(normalized) > MaxLength || !shapePattern.MatchString(normalized) {
		return "", ErrInvalidFormat
	}

	return normalized, nil
}

// Normalize trims surrounding whitespace and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Reason maps a validation error to its reason code.
// Returns an empty string for errors not produced by Validate.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingOrWrongType):
		return ReasonMissingOrWrongType
	case errors.Is(err, ErrInvalidFormat):
		return ReasonInvalidFormat
	default:
		return ""
	}
}

// Redact masks the local part of an address for logging.
func Redact(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}

	local, domain, found := strings.Cut(addr, "@")
	if !found || strings.Contains(domain, "@") {
		return "[redacted]"
	}
	if local == "" {
		return "***@" + domain
	}

	runes := []rune(local)
	return string(runes[0]) + "***@" + domain
}
