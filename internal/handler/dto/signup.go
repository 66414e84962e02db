// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"github.com/opef/betalist/internal/model"
)

// SignupRequest is the body of POST /api/beta-signup.
// Email is left untyped so a wrong JSON type reaches the validator
// instead of failing the decode.
type SignupRequest struct {
	Email any `json:"email"`
}

// SignupResponse is returned when a signup is recorded.
type SignupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	Email   string `json:"email"`
}

// DuplicateResponse is returned with 409 when the email is already listed.
type DuplicateResponse struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// ErrorResponse is the body of every other error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SignupEntry is one row of the listing.
type SignupEntry struct {
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// ListingResponse is the body of GET /api/get-signups.
type ListingResponse struct {
	Count   int           `json:"count"`
	Signups []SignupEntry `json:"signups"`
}

// ToListingResponse maps records in the order given.
func ToListingResponse(records []*model.SignupRecord) ListingResponse {
	entries := make([]SignupEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, SignupEntry{
			Email:     rec.Email,
			Timestamp: rec.Timestamp(),
		})
	}
	return ListingResponse{
		Count:   len(entries),
		Signups: entries,
	}
}
