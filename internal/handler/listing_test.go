package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opef/betalist/internal/email"
	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/metrics"
)

func getSignups(h *ListingHandler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListingHandler_Empty(t *testing.T) {
	h := NewListingHandler(newStubLedger(), nil, discardLogger())

	resp := getSignups(h, "/api/get-signups")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	// An empty list is [] not null.
	if got := strings.TrimSpace(resp.Body.String()); got != `{"count":0,"signups":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestListingHandler_RoundTrip(t *testing.T) {
	l := newStubLedger()
	signup := NewSignupHandler(l, nil, discardLogger())
	h := NewListingHandler(l, nil, discardLogger())

	submitted := []string{"first@example.com", "Second@Example.com", " third@example.org "}
	for _, addr := range submitted {
		if resp := postSignup(signup, `{"email":"`+addr+`"}`); resp.Code != http.StatusOK {
			t.Fatalf("signup %q status = %d", addr, resp.Code)
		}
	}

	resp := getSignups(h, "/api/get-signups")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}

	body := decodeBody(t, resp)
	signups, ok := body["signups"].([]any)
	if !ok {
		t.Fatalf("signups has type %T", body["signups"])
	}
	if body["count"] != float64(len(signups)) || len(signups) != 3 {
		t.Fatalf("count = %v, len = %d, want 3", body["count"], len(signups))
	}

	// Newest first, normalized, ISO-8601.
	want := []string{"third@example.org", "second@example.com", "first@example.com"}
	var prev time.Time
	for i, raw := range signups {
		entry := raw.(map[string]any)
		if entry["email"] != want[i] {
			t.Errorf("signups[%d].email = %v, want %s", i, entry["email"], want[i])
		}
		ts, err := time.Parse(time.RFC3339Nano, entry["timestamp"].(string))
		if err != nil {
			t.Errorf("signups[%d].timestamp %v is not ISO-8601: %v", i, entry["timestamp"], err)
			continue
		}
		if i > 0 && ts.After(prev) {
			t.Errorf("signups[%d] is newer than signups[%d]", i, i-1)
		}
		prev = ts
	}
}

func TestListingHandler_CSV(t *testing.T) {
	l := newStubLedger()
	ctx := context.Background()
	_, _ = l.Append(ctx, "a@example.com")
	_, _ = l.Append(ctx, "b@example.com")

	h := NewListingHandler(l, nil, discardLogger())
	h.now = func() time.Time { return time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC) }

	resp := getSignups(h, "/api/get-signups?format=csv")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename="beta-signups-2025-06-01.csv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "Email" || rows[0][1] != "Timestamp" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "b@example.com" || rows[2][0] != "a@example.com" {
		t.Errorf("rows not newest first: %v", rows[1:])
	}
}

func TestListingHandler_CSVNeutralizesFormulas(t *testing.T) {
	l := newStubLedger()
	ctx := context.Background()
	for _, addr := range []string{
		`=hyperlink("http://evil.example")@x.io`,
		"+1@x.io",
		"-cmd@x.io",
		"plain@x.io",
	} {
		if _, err := email.Validate(addr); err != nil {
			t.Fatalf("Validate(%q): %v", addr, err)
		}
		_, _ = l.Append(ctx, addr)
	}

	h := NewListingHandler(l, nil, discardLogger())
	rows, err := csv.NewReader(getSignups(h, "/api/get-signups?format=csv").Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}

	want := []string{"plain@x.io", "'-cmd@x.io", "'+1@x.io", `'=hyperlink("http://evil.example")@x.io`}
	if len(rows) != len(want)+1 {
		t.Fatalf("rows = %d, want %d", len(rows), len(want)+1)
	}
	for i, w := range want {
		if rows[i+1][0] != w {
			t.Errorf("row %d email = %q, want %q", i+1, rows[i+1][0], w)
		}
	}

	// JSON keeps the stored address untouched.
	body := decodeBody(t, getSignups(h, "/api/get-signups"))
	first := body["signups"].([]any)[3].(map[string]any)
	if first["email"] != `=hyperlink("http://evil.example")@x.io` {
		t.Errorf("json email = %v", first["email"])
	}
}

func TestListingHandler_UnsupportedFormat(t *testing.T) {
	h := NewListingHandler(newStubLedger(), nil, discardLogger())

	resp := getSignups(h, "/api/get-signups?format=xml")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestListingHandler_MethodGuard(t *testing.T) {
	l := newStubLedger()
	rec := metrics.NewInMemory()
	h := NewListingHandler(l, rec, discardLogger())

	resp := httptest.NewRecorder()
	h.List(resp, httptest.NewRequest(http.MethodPost, "/api/get-signups", strings.NewReader(`{}`)))

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Code)
	}
	if body := decodeBody(t, resp); body["error"] != "Method not allowed" {
		t.Errorf("error = %v", body["error"])
	}
	if got := rec.Snapshot().Listings[metrics.ListingMethodNotAllowed]; got != 1 {
		t.Errorf("method_not_allowed metric = %d, want 1", got)
	}
}

func TestListingHandler_LedgerError(t *testing.T) {
	l := newStubLedger()
	l.listErr = ledger.Unavailable(ledger.BackendSQLite, ledger.OpList, errors.New("database is locked"))
	h := NewListingHandler(l, nil, discardLogger())

	resp := getSignups(h, "/api/get-signups")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "locked") {
		t.Errorf("internal detail leaked: %s", resp.Body.String())
	}
	if body := decodeBody(t, resp); body["error"] != "Internal server error" {
		t.Errorf("error = %v", body["error"])
	}
}
