package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/opef/betalist/internal/auth"
)

// AdminKeyHeader carries the admin key as an alternative to a bearer token.
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyConfig configures RequireAdminKey.
type AdminKeyConfig struct {
	Logger *slog.Logger
	// Hash is the Argon2id PHC hash of the admin key. Empty disables the check.
	Hash string
	// OnReject, if set, is called once per rejected request.
	OnReject func()
	// Methods limits the check to these request methods; other methods pass
	// through so the handler can answer them. Empty checks every method.
	Methods []string
}

// RequireAdminKey returns middleware that rejects requests without a valid
// admin key with 401. Successful verifications are remembered by a SHA-256
// digest so the Argon2id cost is paid once per distinct key.
func RequireAdminKey(cfg AdminKeyConfig) func(http.Handler) http.Handler {
	var verified sync.Map

	reject := func(w http.ResponseWriter) {
		if cfg.OnReject != nil {
			cfg.OnReject()
		}
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	}

	return func(next http.Handler) http.Handler {
		if cfg.Hash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.Methods) > 0 && !slices.Contains(cfg.Methods, r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAdminKey(r)
			if key == "" || !auth.ValidateKeyFormat(key) {
				reject(w)
				return
			}

			digest := auth.QuickHash(key)
			if _, ok := verified.Load(digest); ok {
				next.ServeHTTP(w, r)
				return
			}

			match, err := auth.VerifyKey(key, cfg.Hash)
			if err != nil {
				cfg.Logger.Error("admin_key_verify_failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				reject(w)
				return
			}
			if !match {
				cfg.Logger.Warn("admin_key_rejected",
					slog.String("request_id", GetRequestID(r.Context())),
				)
				reject(w)
				return
			}

			verified.Store(digest, struct{}{})
			next.ServeHTTP(w, r)
		})
	}
}

// extractAdminKey reads the key from Authorization: Bearer or X-Admin-Key.
func extractAdminKey(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		const prefix = "Bearer "
		if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
			return strings.TrimSpace(authz[len(prefix):])
		}
	}
	return strings.TrimSpace(r.Header.Get(AdminKeyHeader))
}
