// Package main is the entrypoint for the beta waitlist API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opef/betalist/internal/auth"
	"github.com/opef/betalist/internal/cache"
	"github.com/opef/betalist/internal/config"
	"github.com/opef/betalist/internal/handler"
	"github.com/opef/betalist/internal/ledger"
	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/middleware"
	"github.com/opef/betalist/internal/repository"
	"github.com/opef/betalist/internal/server"
)

// limiterCleanupInterval controls how often idle per-IP limiters are dropped.
const limiterCleanupInterval = time.Minute

// backend is an opened ledger together with what the process needs to
// probe and close it.
type backend struct {
	ledger ledger.Ledger
	health handler.HealthChecker
	close  server.ShutdownFunc
	// cache is set only for the redis backend; the signup rate limiter shares it.
	cache *cache.Cache
}

// routerDeps carries everything setupRouter wires together.
type routerDeps struct {
	cfg      *config.Config
	logger   *slog.Logger
	ledger   ledger.Ledger
	health   handler.HealthChecker
	recorder metrics.Recorder
	gatherer prometheus.Gatherer
	limiter  middleware.Limiter
}

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if cfg.AdminKeyHash != "" {
		if err := auth.CheckHash(cfg.AdminKeyHash); err != nil {
			logger.Error("invalid ADMIN_KEY_HASH", "error", err)
			os.Exit(1)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry, cfg.LedgerBackend)

	// Ledger
	b, err := openBackend(ctx, cfg, recorder, logger)
	if err != nil {
		logger.Error("failed to open ledger",
			slog.String("backend", cfg.LedgerBackend),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("ledger ready", "backend", cfg.LedgerBackend)

	// Signup rate limiter
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()

	var limiter middleware.Limiter
	if b.cache != nil {
		limiter = middleware.NewRedisLimiter(b.cache, cfg.RateLimitSignupRPS, cfg.RateLimitSignupBurst)
	} else {
		local := middleware.NewLocalLimiter(cfg.RateLimitSignupRPS, cfg.RateLimitSignupBurst)
		local.StartCleanup(limiterCtx, limiterCleanupInterval)
		limiter = local
	}

	r := setupRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		ledger:   ledger.NewInstrumented(b.ledger, recorder),
		health:   b.health,
		recorder: recorder,
		gatherer: registry,
		limiter:  limiter,
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("ledger", b.close)
	srv.OnShutdown("rate_limiter", func(context.Context) error {
		stopLimiter()
		return nil
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"backend", cfg.LedgerBackend,
		"admin_key", cfg.AdminKeyHash != "",
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openBackend constructs the ledger selected by LEDGER_BACKEND.
func openBackend(ctx context.Context, cfg *config.Config, rec metrics.Recorder, logger *slog.Logger) (*backend, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.LedgerBackend {
	case ledger.BackendMemory:
		m := ledger.NewMemory()
		return &backend{ledger: m, health: m, close: noop}, nil

	case ledger.BackendFile:
		f, err := ledger.NewFile(cfg.DataFile, ledger.FileOptions{
			Strict:  cfg.LedgerStrictCorruption,
			Logger:  logger,
			Metrics: rec,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using file ledger", "path", f.Path())
		return &backend{ledger: f, health: f, close: noop}, nil

	case ledger.BackendSQLite:
		s, err := ledger.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite ledger", "path", cfg.SQLitePath)
		return &backend{
			ledger: s,
			health: s,
			close:  func(context.Context) error { return s.Close() },
		}, nil

	case ledger.BackendPostgres:
		if cfg.RunMigrations {
			if err := repository.Migrate(cfg.DatabaseURL, logger); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		repo, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database", slog.String("database_url", redactURL(cfg.DatabaseURL)))
		return &backend{
			ledger: repo,
			health: repo,
			close: func(context.Context) error {
				repo.Close()
				return nil
			},
		}, nil

	case ledger.BackendRedis:
		c, err := cache.New(ctx, cfg.RedisURL, cache.Options{
			KeyPrefix: cfg.RedisKeyPrefix,
			Strict:    cfg.LedgerStrictCorruption,
			Logger:    logger,
			Metrics:   rec,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("connected to Redis", slog.String("redis_url", redactURL(cfg.RedisURL)))
		return &backend{
			ledger: c,
			health: c,
			close:  func(context.Context) error { return c.Close() },
			cache:  c,
		}, nil
	}

	return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = d.cfg.GetCORSAllowedOrigins()
	if d.cfg.AdminKeyHash != "" {
		cors.AllowedHeaders = append(cors.AllowedHeaders, "Authorization", middleware.AdminKeyHeader)
	}

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	r.Use(middleware.CORS(cors))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	healthHandler := handler.NewHealthHandler(d.cfg.LedgerBackend, d.health, d.logger)
	signupHandler := handler.NewSignupHandler(d.ledger, d.recorder, d.logger)
	listingHandler := handler.NewListingHandler(d.ledger, d.recorder, d.logger)

	// Health and metrics endpoints
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Method(http.MethodGet, "/metrics", handler.NewMetricsHandler(d.gatherer))

	// The handlers answer every method themselves so a wrong one gets
	// their 405 body and Allow header.
	rateLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  d.logger,
		Limiter: d.limiter,
		Enabled: d.cfg.RateLimitSignupEnabled,
	})
	r.With(rateLimit).HandleFunc("/api/beta-signup", signupHandler.Create)

	requireAdmin := middleware.RequireAdminKey(middleware.AdminKeyConfig{
		Logger: d.logger,
		Hash:   d.cfg.AdminKeyHash,
		OnReject: func() {
			d.recorder.IncListing(metrics.ListingUnauthorized)
		},
		// Other methods reach the handler and get its 405.
		Methods: []string{http.MethodGet, http.MethodHead},
	})
	r.With(requireAdmin).HandleFunc("/api/get-signups", listingHandler.List)

	// 404 and 405 handlers
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
