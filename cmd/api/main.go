// Package main is the entrypoint for the Inkforge API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/inkforge/inkforge/internal/auth"
	"github.com/inkforge/inkforge/internal/cache"
	"github.com/inkforge/inkforge/internal/config"
	"github.com/inkforge/inkforge/internal/engine"
	"github.com/inkforge/inkforge/internal/handler"
	"github.com/inkforge/inkforge/internal/metrics"
	"github.com/inkforge/inkforge/internal/middleware"
	"github.com/inkforge/inkforge/internal/repository"
	"github.com/inkforge/inkforge/internal/server"
	"github.com/inkforge/inkforge/internal/service"
	"github.com/inkforge/inkforge/internal/usage"
)

// generateRateLimitScope names the per-user bucket of POST /api/generate.
const generateRateLimitScope = "generate"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	verifier, err := auth.NewSessionVerifier(cfg.AuthSecret)
	if err != nil {
		logger.Error("failed to initialize session verifier", "error", err)
		os.Exit(1)
	}

	// Metrics
	var recorder metrics.Recorder = metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsHandler = prom.Handler()
	}

	usageRepo := repository.NewUsageRepository(repo)
	publisher := usage.NewPublisher(cacheClient.Client(), logger, recorder)

	gateway := engine.NewGateway(engine.Config{
		BaseURL:          cfg.EngineURL,
		Timeout:          cfg.EngineTimeout,
		MaxResponseBytes: cfg.EngineMaxResponseBytes,
	}, nil, logger)

	ledger := service.NewLedger(repo, recorder)
	archive := service.NewArchive(repo)
	generationService := service.NewGenerationService(
		ledger,
		gateway,
		archive,
		publisher,
		recorder,
		logger,
		service.GenerationConfig{RefundOnPersistFailure: cfg.RefundOnPersistFailure},
	)
	accountService := service.NewAccountService(repo, usageRepo)

	handlers := routeHandlers{
		base: handler.New(),
		health: handler.NewHealthHandler(
			handler.Dependency{Name: "postgres", Checker: repo, Critical: true},
			handler.Dependency{Name: "redis", Checker: cacheClient},
		),
		generate: handler.NewGenerateHandler(generationService, logger),
		library:  handler.NewLibraryHandler(archive, logger),
		account:  handler.NewAccountHandler(accountService, logger),
		metrics:  metricsHandler,
	}

	r := setupRouter(handlers, verifier, cacheClient, recorder, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	if cfg.UsageWorkerEnabled {
		worker := usage.NewWorker(cacheClient.Client(), usageRepo, logger, usage.NewConsumerID(), recorder)
		srv.Go("usage_worker", worker.Run)
		srv.OnShutdown("usage_worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"engine_url", redactURL(cfg.EngineURL),
		"env", cfg.AppEnv,
		"refund_on_persist_failure", cfg.RefundOnPersistFailure,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "inkforge")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routeHandlers struct {
	base     *handler.Handler
	health   *handler.HealthHandler
	generate *handler.GenerateHandler
	library  *handler.LibraryHandler
	account  *handler.AccountHandler
	// metrics is nil when exposition is disabled.
	metrics http.Handler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h routeHandlers,
	verifier middleware.TokenVerifier,
	cacheClient *cache.Cache,
	recorder metrics.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	corsCfg.AllowCredentials = len(corsCfg.AllowedOrigins) > 0

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Metrics(recorder))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Health endpoints (no auth required)
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)

	// Root info endpoint
	r.Get("/", h.base.Index)

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	// Auth middleware configuration
	authCfg := middleware.AuthConfig{
		Logger:     logger,
		Verifier:   verifier,
		Cache:      cacheClient,
		Metrics:    recorder,
		CookieName: cfg.SessionCookieName,
	}

	// Rate limit middleware configuration
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        logger,
		Limiter:       cacheClient,
		Metrics:       recorder,
		UserEnabled:   cfg.RateLimitGenerateEnabled,
		UserScope:     generateRateLimitScope,
		UserPerMinute: cfg.RateLimitGeneratePerMinute,
		UserBurst:     cfg.RateLimitGenerateBurst,
		IPEnabled:     cfg.RateLimitIPEnabled,
		IPRPS:         cfg.RateLimitIPRPS,
		IPBurst:       cfg.RateLimitIPBurst,
	}

	// API routes (require a session)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitIP(rateLimitCfg))
		r.Use(middleware.Auth(authCfg))

		r.With(middleware.RateLimitUser(rateLimitCfg)).Post("/generate", h.generate.Generate)
		r.Get("/library", h.library.List)

		r.Get("/me", h.account.Me)
		r.Get("/credits", h.account.Credits)
		r.Get("/usage", h.account.Usage)
	})

	// 404 and 405 handlers
	r.NotFound(h.base.NotFound)
	r.MethodNotAllowed(h.base.MethodNotAllowed)

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
