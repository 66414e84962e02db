// Package middleware provides HTTP middleware for the waitlist API.
package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody matches the handler package's error shape.
type errorBody struct {
	Error string `json:"error"`
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}
