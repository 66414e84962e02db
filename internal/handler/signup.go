package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opef/betalist/internal/email"
	"github.com/opef/betalist/internal/handler/dto"
	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/middleware"
)

// SignupHandler handles POST /api/beta-signup.
type SignupHandler struct {
	ledger  ledger.Ledger
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewSignupHandler creates a new SignupHandler.
func NewSignupHandler(l ledger.Ledger, rec metrics.Recorder, logger *slog.Logger) *SignupHandler {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &SignupHandler{
		ledger:  l,
		metrics: rec,
		logger:  logger,
	}
}

// Create validates the submitted email and records it once.
func (h *SignupHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.IncSignup(metrics.SignupMethodNotAllowed)
		rejectMethod(w, http.MethodPost)
		return
	}

	var req dto.SignupRequest
	if err := decodeSignup(r.Body, &req); err != nil {
		h.metrics.IncSignup(metrics.SignupBadRequest)
		h.logger.Warn("signup_rejected",
			slog.String("reason", "invalid_body"),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	addr, err := email.Validate(req.Email)
	if err != nil {
		reason := email.Reason(err)
		h.metrics.IncSignup(reason)
		h.logger.Warn("signup_rejected",
			slog.String("reason", reason),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		if errors.Is(err, email.ErrMissingOrWrongType) {
			writeError(w, http.StatusBadRequest, msgEmailRequired)
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidEmail)
		return
	}

	ctx := r.Context()

	exists, err := h.ledger.Exists(ctx, addr)
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}
	if exists {
		h.writeDuplicate(w, r, addr)
		return
	}

	rec, err := h.ledger.Append(ctx, addr)
	if errors.Is(err, ledger.ErrDuplicateKey) {
		// Another request registered the same address after Exists.
		h.writeDuplicate(w, r, addr)
		return
	}
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	count, err := h.ledger.Count(ctx)
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	h.metrics.IncSignup(metrics.SignupCreated)
	h.logger.Info("signup_created",
		slog.String("email", email.Redact(rec.Email)),
		slog.String("created_at", rec.Timestamp()),
		slog.Int("count", count),
		slog.String("request_id", middleware.GetRequestID(ctx)),
	)

	writeJSON(w, http.StatusOK, dto.SignupResponse{
		Success: true,
		Message: msgRegistered,
		Count:   count,
		Email:   rec.Email,
	})
}

// writeDuplicate answers 409 with the current count.
func (h *SignupHandler) writeDuplicate(w http.ResponseWriter, r *http.Request, addr string) {
	count, err := h.ledger.Count(r.Context())
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	h.metrics.IncSignup(metrics.SignupDuplicate)
	h.logger.Info("signup_duplicate",
		slog.String("email", email.Redact(addr)),
		slog.Int("count", count),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	writeJSON(w, http.StatusConflict, dto.DuplicateResponse{
		Error: msgAlreadyExists,
		Count: count,
	})
}

// handleLedgerError logs the cause and answers with a generic 500.
func (h *SignupHandler) handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	h.metrics.IncSignup(metrics.SignupError)
	logLedgerError(h.logger, r, err)
	writeError(w, http.StatusInternalServerError, msgInternal)
}

// logLedgerError records a storage failure with its backend and operation.
func logLedgerError(logger *slog.Logger, r *http.Request, err error) {
	attrs := []any{
		slog.String("error", err.Error()),
		slog.Bool("corrupt", errors.Is(err, ledger.ErrCorruptState)),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	}

	var opErr *ledger.OpError
	if errors.As(err, &opErr) {
		attrs = append(attrs,
			slog.String("backend", opErr.Backend),
			slog.String("op", opErr.Op),
		)
	}

	logger.Error("ledger_error", attrs...)
}

// decodeSignup reads exactly one JSON value from body. An empty body
// decodes as an empty request; anything after the value is an error.
func decodeSignup(body io.Reader, req *dto.SignupRequest) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
