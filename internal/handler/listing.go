package handler

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opef/betalist/internal/handler/dto"
	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/middleware"
	"github.com/opef/betalist/internal/model"
)

// Listing formats selected by ?format=.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ListingHandler handles GET /api/get-signups.
type ListingHandler struct {
	ledger  ledger.Ledger
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(l ledger.Ledger, rec metrics.Recorder, logger *slog.Logger) *ListingHandler {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &ListingHandler{
		ledger:  l,
		metrics: rec,
		logger:  logger,
		now:     time.Now,
	}
}

// List returns every signup, newest first, as JSON or CSV.
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.metrics.IncListing(metrics.ListingMethodNotAllowed)
		rejectMethod(w, http.MethodGet)
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != FormatJSON && format != FormatCSV {
		h.metrics.IncListing(metrics.ListingBadRequest)
		writeError(w, http.StatusBadRequest, "Unsupported format")
		return
	}

	records, err := h.ledger.List(r.Context())
	if err != nil {
		h.metrics.IncListing(metrics.ListingError)
		logLedgerError(h.logger, r, err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.metrics.IncListing(metrics.ListingSuccess)
	h.logger.Debug("signups_listed",
		slog.Int("count", len(records)),
		slog.String("format", format),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	if format == FormatCSV {
		h.writeCSV(w, records)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToListingResponse(records))
}

// writeCSV streams records as an Email,Timestamp attachment.
func (h *ListingHandler) writeCSV(w http.ResponseWriter, records []*model.SignupRecord) {
	filename := fmt.Sprintf("beta-signups-%s.csv", h.now().UTC().Format(time.DateOnly))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Email", "Timestamp"})
	for _, rec := range records {
		_ = cw.Write([]string{csvCell(rec.Email), rec.Timestamp()})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("csv_write_failed", slog.String("error", err.Error()))
	}
}

// csvCell quotes values a spreadsheet would evaluate as a formula.
func csvCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}
