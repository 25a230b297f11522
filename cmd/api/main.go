// Package main is the entrypoint for the poapgate API server.
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

	"github.com/poapgate/poapgate/internal/auth"
	"github.com/poapgate/poapgate/internal/config"
	"github.com/poapgate/poapgate/internal/ens"
	"github.com/poapgate/poapgate/internal/handler"
	"github.com/poapgate/poapgate/internal/ledger"
	"github.com/poapgate/poapgate/internal/metrics"
	"github.com/poapgate/poapgate/internal/middleware"
	"github.com/poapgate/poapgate/internal/poap"
	"github.com/poapgate/poapgate/internal/server"
	"github.com/poapgate/poapgate/internal/service"
	"github.com/poapgate/poapgate/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Ledger store
	ledgerURL := cfg.LedgerURL()
	kv, err := store.Open(ctx, cfg.LedgerBackend, ledgerURL)
	if err != nil {
		logger.Error("failed to open ledger store",
			slog.String("backend", cfg.LedgerBackend),
			slog.String("error", sanitizeError(err, ledgerURL)),
			slog.String("url", redactURL(ledgerURL)),
		)
		os.Exit(1)
	}
	logger.Info("ledger store ready", slog.String("backend", cfg.LedgerBackend))

	// Name resolution
	resolver, err := ens.Dial(ctx, cfg.EthRPCURL, ens.Config{
		RegistryAddress: cfg.ENSRegistryAddress,
		Timeout:         cfg.ExternalCallTimeout,
	})
	if err != nil {
		logger.Error("failed to dial ethereum rpc",
			slog.String("error", sanitizeError(err, cfg.EthRPCURL)),
			slog.String("rpc_url", redactURL(cfg.EthRPCURL)),
		)
		_ = kv.Close()
		os.Exit(1)
	}

	// POAP API
	minter, err := poap.New(poap.Config{
		APIURL:       cfg.POAPAPIURL,
		AuthURL:      cfg.POAPAuthURL,
		ClientID:     cfg.POAPClientID,
		ClientSecret: cfg.POAPClientSecret,
		Audience:     cfg.POAPAudience,
		APIKey:       cfg.POAPAPIKey,
	})
	if err != nil {
		logger.Error("failed to configure poap client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Sessions and login
	sessions, err := auth.NewSessionManager([]byte(cfg.SessionSecret), cfg.SessionTTL, cfg.SecureCookies())
	if err != nil {
		logger.Error("failed to configure sessions", slog.String("error", err.Error()))
		os.Exit(1)
	}
	twitter, err := auth.NewTwitter(auth.TwitterConfig{
		ClientID:     cfg.TwitterClientID,
		ClientSecret: cfg.TwitterClientSecret,
		RedirectURL:  cfg.TwitterRedirectURL,
	}, kv)
	if err != nil {
		logger.Error("failed to configure twitter login", slog.String("error", err.Error()))
		os.Exit(1)
	}
	adminKeys, err := auth.NewAdminKeyVerifier(cfg.AdminAPIKeyHash)
	if err != nil {
		logger.Error("invalid admin key hash", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !adminKeys.Enabled() {
		logger.Warn("ADMIN_API_KEY_HASH not set; admin routes disabled")
	}

	// Services
	metricsRecorder := metrics.NewPrometheus()
	claims := service.NewClaimService(
		ledger.New(kv),
		resolver,
		minter,
		service.ClaimConfig{
			EventID:     cfg.POAPEventID,
			SecretCode:  cfg.POAPSecretCode,
			CallTimeout: cfg.ExternalCallTimeout,
			LockTTL:     cfg.ClaimLockTTL,
		},
		logger,
		metricsRecorder,
	)

	// The token bucket needs atomic Lua scripts; other backends go unlimited.
	var limiter middleware.RateLimiter
	if rs, ok := kv.(*store.Redis); ok {
		limiter = rs
	} else if cfg.RateLimitMintEnabled {
		logger.Warn("mint rate limiting needs the redis backend; disabled", slog.String("backend", cfg.LedgerBackend))
	}

	r := setupRouter(routes{
		info:     handler.New(cfg.POAPEventID),
		health:   handler.NewHealthHandler(kv, resolver),
		claim:    handler.NewClaimHandler(claims, logger),
		auth:     handler.NewAuthHandler(twitter, sessions, cfg.BaseURL, logger, metricsRecorder),
		admin:    handler.NewAdminHandler(claims, logger),
		metrics:  metricsRecorder,
		sessions: sessions,
		admins:   adminKeys,
		limiter:  limiter,
	}, cfg, logger)

	srv := server.New(r, cfg.AppPort, server.Timeouts{
		Read:     cfg.ReadTimeout,
		Write:    cfg.WriteTimeout,
		Shutdown: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("ledger_store", func(context.Context) error { return kv.Close() })
	srv.OnShutdown("eth_rpc", func(context.Context) error { return resolver.Close() })

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"event_id", cfg.POAPEventID,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
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

type metricsExporter interface {
	metrics.Recorder
	Handler() http.Handler
}

type routes struct {
	info     *handler.Handler
	health   *handler.HealthHandler
	claim    *handler.ClaimHandler
	auth     *handler.AuthHandler
	admin    *handler.AdminHandler
	metrics  metricsExporter
	sessions *auth.SessionManager
	admins   *auth.AdminKeyVerifier
	limiter  middleware.RateLimiter
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(rt routes, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.IsDevelopment = cfg.IsDevelopment()
	securityCfg.MaxRequestBodySize = cfg.MaxRequestBodySize

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Probes and service info
	r.Get("/healthz", rt.health.Healthz)
	r.Get("/readyz", rt.health.Readyz)
	r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	r.Get("/", rt.info.Info)

	// Social login
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", rt.auth.Login)
		r.Get("/callback", rt.auth.Callback)
		r.Post("/logout", rt.auth.Logout)
	})

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        logger,
		Limiter:       rt.limiter,
		Metrics:       rt.metrics,
		Enabled:       cfg.RateLimitMintEnabled,
		RatePerMinute: cfg.RateLimitMintRPM,
		Burst:         cfg.RateLimitMintBurst,
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(rt.sessions, logger))
			r.Get("/session", rt.claim.Session)
			r.With(middleware.RateLimitMint(rateLimitCfg)).Post("/mint", rt.claim.Mint)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdminKey(rt.admins, logger))
			r.Get("/mints", rt.admin.ListMints)
		})
	})

	r.NotFound(rt.info.NotFound)
	r.MethodNotAllowed(rt.info.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL strips passwords and API keys embedded in a connection or RPC
// URL. Hosted RPC providers put the key in the last path segment.
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
	if (parsed.Scheme == "http" || parsed.Scheme == "https" || parsed.Scheme == "wss") && parsed.Path != "" && parsed.Path != "/" {
		segments := strings.Split(parsed.Path, "/")
		segments[len(segments)-1] = "redacted"
		parsed.Path = strings.Join(segments, "/")
	}
	parsed.RawQuery = ""

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
