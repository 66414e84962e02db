package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	backend string
	ledger  HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a new HealthHandler for the named ledger backend.
// Pass a nil checker for backends with nothing to probe.
func NewHealthHandler(backend string, ledger HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		ledger:  ledger,
		logger:  logger,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is a liveness probe endpoint.
// It returns 200 if the server is running.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz is a readiness probe endpoint.
// It returns 200 only if the ledger backend answers.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	status, code := "ok", http.StatusOK

	switch {
	case h.ledger == nil:
		checks[h.backend] = "not configured"
	default:
		if err := h.ledger.Ping(ctx); err != nil {
			h.logger.Error("readiness_check_failed",
				slog.String("backend", h.backend),
				slog.String("error", err.Error()),
			)
			checks[h.backend] = "error"
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else {
			checks[h.backend] = "ok"
		}
	}

	writeJSON(w, code, HealthResponse{Status: status, Checks: checks})
}
