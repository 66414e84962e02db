package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opef/betalist/internal/auth"
	"github.com/opef/betalist/internal/config"
	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/middleware"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "development",
		LedgerBackend:      ledger.BackendMemory,
		CORSAllowedOrigins: "*",
		MaxRequestBodySize: 65536,
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, limiter middleware.Limiter) (http.Handler, *metrics.InMemoryRecorder) {
	t.Helper()
	rec := metrics.NewInMemory()
	mem := ledger.NewMemory()
	return setupRouter(routerDeps{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ledger:   ledger.NewInstrumented(mem, rec),
		health:   mem,
		recorder: rec,
		limiter:  limiter,
	}), rec
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestRouter_SignupThenList(t *testing.T) {
	h, _ := newTestRouter(t, testConfig(), nil)

	resp := do(h, http.MethodPost, "/api/beta-signup", `{"email":" Test@Example.COM "}`, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("signup status = %d, body = %s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	if body["success"] != true || body["count"] != float64(1) || body["email"] != "test@example.com" {
		t.Errorf("signup body = %v", body)
	}

	resp = do(h, http.MethodPost, "/api/beta-signup", `{"email":"test@example.com"}`, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.Code)
	}
	body = decode(t, resp)
	if body["error"] != "Email already registered" || body["count"] != float64(1) {
		t.Errorf("duplicate body = %v", body)
	}

	resp = do(h, http.MethodGet, "/api/get-signups", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("listing status = %d", resp.Code)
	}
	body = decode(t, resp)
	signups := body["signups"].([]any)
	if body["count"] != float64(1) || len(signups) != 1 {
		t.Fatalf("listing body = %v", body)
	}
	if got := signups[0].(map[string]any)["email"]; got != "test@example.com" {
		t.Errorf("listed email = %v", got)
	}
}

func TestRouter_MethodGuards(t *testing.T) {
	h, rec := newTestRouter(t, testConfig(), nil)

	tests := []struct {
		method string
		target string
		allow  string
	}{
		{http.MethodGet, "/api/beta-signup", http.MethodPost},
		{http.MethodPut, "/api/beta-signup", http.MethodPost},
		{http.MethodPost, "/api/get-signups", http.MethodGet},
		{http.MethodDelete, "/api/get-signups", http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			resp := do(h, tt.method, tt.target, "", nil)
			if resp.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d, want 405", resp.Code)
			}
			if got := resp.Header().Get("Allow"); got != tt.allow {
				t.Errorf("Allow = %q, want %q", got, tt.allow)
			}
			if body := decode(t, resp); body["error"] != "Method not allowed" {
				t.Errorf("error = %v", body["error"])
			}
		})
	}

	if ops := rec.Snapshot().LedgerOps; len(ops) != 0 {
		t.Errorf("ledger touched by rejected methods: %v", ops)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, testConfig(), nil)

	resp := do(h, http.MethodOptions, "/api/beta-signup", "", map[string]string{
		"Origin":                        "https://landing.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if resp.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestRouter_CORSAdminHeaders(t *testing.T) {
	preflight := map[string]string{
		"Origin":                         "https://admin.example.com",
		"Access-Control-Request-Method":  http.MethodGet,
		"Access-Control-Request-Headers": "x-admin-key",
	}

	open, _ := newTestRouter(t, testConfig(), nil)
	resp := do(open, http.MethodOptions, "/api/get-signups", "", preflight)
	if got := resp.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("open listing Access-Control-Allow-Headers = %q, want Content-Type", got)
	}

	key, err := auth.GenerateAdminKey()
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}
	cfg := testConfig()
	cfg.AdminKeyHash = key.Hash
	guarded, _ := newTestRouter(t, cfg, nil)

	resp = do(guarded, http.MethodOptions, "/api/get-signups", "", preflight)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.Code)
	}
	got := resp.Header().Get("Access-Control-Allow-Headers")
	for _, want := range []string{"Content-Type", "Authorization", middleware.AdminKeyHeader} {
		if !strings.Contains(got, want) {
			t.Errorf("Access-Control-Allow-Headers = %q, missing %s", got, want)
		}
	}
}

func TestRouter_NotFound(t *testing.T) {
	h, _ := newTestRouter(t, testConfig(), nil)

	resp := do(h, http.MethodGet, "/nope", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if body := decode(t, resp); body["error"] != "resource not found" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRouter_HealthEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, testConfig(), nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		if resp := do(h, http.MethodGet, path, "", nil); resp.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.Code)
		}
	}
}

func TestRouter_AdminKeyOnListing(t *testing.T) {
	key, err := auth.GenerateAdminKey()
	if err != nil {
		t.Fatalf("GenerateAdminKey: %v", err)
	}
	cfg := testConfig()
	cfg.AdminKeyHash = key.Hash

	h, rec := newTestRouter(t, cfg, nil)

	if resp := do(h, http.MethodGet, "/api/get-signups", "", nil); resp.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", resp.Code)
	}
	if got := rec.Snapshot().Listings[metrics.ListingUnauthorized]; got != 1 {
		t.Errorf("unauthorized listings = %d, want 1", got)
	}

	resp := do(h, http.MethodGet, "/api/get-signups", "", map[string]string{
		"Authorization": "Bearer " + key.Plaintext,
	})
	if resp.Code != http.StatusOK {
		t.Errorf("bearer status = %d, want 200", resp.Code)
	}

	// Wrong methods are answered by the handler, not the key check.
	resp = do(h, http.MethodPost, "/api/get-signups", "", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST without key status = %d, want 405", resp.Code)
	}
	if got := resp.Header().Get("Allow"); got != http.MethodGet {
		t.Errorf("Allow = %q, want GET", got)
	}
	if got := rec.Snapshot().Listings[metrics.ListingUnauthorized]; got != 1 {
		t.Errorf("unauthorized listings after POST = %d, want 1", got)
	}

	// The signup endpoint stays public.
	if resp := do(h, http.MethodPost, "/api/beta-signup", `{"email":"a@b.co"}`, nil); resp.Code != http.StatusOK {
		t.Errorf("signup status = %d, want 200", resp.Code)
	}
}

func TestRouter_SignupRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitSignupEnabled = true
	h, _ := newTestRouter(t, cfg, middleware.NewLocalLimiter(0.01, 2))

	for i, addr := range []string{"one@example.com", "two@example.com"} {
		if resp := do(h, http.MethodPost, "/api/beta-signup", `{"email":"`+addr+`"}`, nil); resp.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, resp.Code)
		}
	}

	resp := do(h, http.MethodPost, "/api/beta-signup", `{"email":"three@example.com"}`, nil)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// The listing is not rate limited.
	if resp := do(h, http.MethodGet, "/api/get-signups", "", nil); resp.Code != http.StatusOK {
		t.Errorf("listing status = %d, want 200", resp.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheus(reg, ledger.BackendMemory)
	mem := ledger.NewMemory()
	h := setupRouter(routerDeps{
		cfg:      testConfig(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ledger:   ledger.NewInstrumented(mem, rec),
		health:   mem,
		recorder: rec,
		gatherer: reg,
	})

	do(h, http.MethodPost, "/api/beta-signup", `{"email":"m@example.com"}`, nil)

	resp := do(h, http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `waitlist_signup_requests_total{outcome="created"} 1`) {
		t.Errorf("metrics output missing created counter:\n%s", resp.Body.String())
	}
}

func TestOpenBackend_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.LedgerBackend = "mongo"

	if _, err := openBackend(t.Context(), cfg, metrics.NewNoop(), slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenBackend_File(t *testing.T) {
	cfg := testConfig()
	cfg.LedgerBackend = ledger.BackendFile
	cfg.DataFile = t.TempDir() + "/data/beta-signups.json"

	b, err := openBackend(t.Context(), cfg, metrics.NewNoop(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if _, err := b.ledger.Append(t.Context(), "file@example.com"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.close(t.Context()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestOpenBackend_SQLite(t *testing.T) {
	cfg := testConfig()
	cfg.LedgerBackend = ledger.BackendSQLite
	cfg.SQLitePath = t.TempDir() + "/signups.db"

	b, err := openBackend(t.Context(), cfg, metrics.NewNoop(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer b.close(t.Context())

	if err := b.health.Ping(t.Context()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"postgres://user:secret@db:5432/waitlist", "postgres://user@db:5432/waitlist"},
		{"redis://:secret@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"redis://cache:6379/0", "redis://cache:6379/0"},
	}

	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://user:secret@db:5432/waitlist"
	err := errors.New("dial " + dsn + " failed; password=secret")

	got := sanitizeError(err, dsn)
	if strings.Contains(got, "secret") {
		t.Errorf("sanitizeError leaked secret: %q", got)
	}
	if sanitizeError(nil) != "" {
		t.Error("sanitizeError(nil) should be empty")
	}
}
