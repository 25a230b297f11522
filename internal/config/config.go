// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"

	"github.com/poapgate/poapgate/internal/service"
	"github.com/poapgate/poapgate/internal/store"
)

// MinSessionSecretLen is the shortest accepted SESSION_SECRET.
const MinSessionSecretLen = 32

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public URL of this service; login redirects back here.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Mint ledger storage
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"redis"`
	RedisURL      string `env:"REDIS_URL"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// POAP event and API credentials
	POAPEventID      string `env:"POAP_EVENT_ID,required"`
	POAPSecretCode   string `env:"POAP_SECRET_CODE,required"`
	POAPClientID     string `env:"POAP_CLIENT_ID,required"`
	POAPClientSecret string `env:"POAP_CLIENT_SECRET,required"`
	POAPAPIKey       string `env:"POAP_API_KEY,required"`
	POAPAPIURL       string `env:"POAP_API_URL" envDefault:"https://api.poap.tech"`
	POAPAuthURL      string `env:"POAP_AUTH_URL" envDefault:"https://api.poap.tech/oauth/token"`
	POAPAudience     string `env:"POAP_AUDIENCE"`

	// ENS resolution
	EthRPCURL          string `env:"ETH_RPC_URL,required"`
	ENSRegistryAddress string `env:"ENS_REGISTRY_ADDRESS" envDefault:"0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"`

	// Twitter login; the redirect defaults to {BASE_URL}/auth/callback.
	TwitterClientID     string `env:"TWITTER_CLIENT_ID,required"`
	TwitterClientSecret string `env:"TWITTER_CLIENT_SECRET,required"`
	TwitterRedirectURL  string `env:"TWITTER_REDIRECT_URL"`

	// Sessions
	SessionSecret string        `env:"SESSION_SECRET,required"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// Argon2id PHC hash of the admin API key; empty disables admin routes.
	AdminAPIKeyHash string `env:"ADMIN_API_KEY_HASH"`

	// Claim workflow limits
	ExternalCallTimeout time.Duration `env:"EXTERNAL_CALL_TIMEOUT" envDefault:"10s"`
	ClaimLockTTL        time.Duration `env:"CLAIM_LOCK_TTL" envDefault:"2m"`

	// Per-user mint rate limiting (redis backend only)
	RateLimitMintEnabled bool `env:"RATE_LIMIT_MINT_ENABLED" envDefault:"true"`
	RateLimitMintRPM     int  `env:"RATE_LIMIT_MINT_RPM" envDefault:"10"`
	RateLimitMintBurst   int  `env:"RATE_LIMIT_MINT_BURST" envDefault:"3"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 64KB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// LedgerURL returns the connection URL for the configured ledger backend.
func (c *Config) LedgerURL() string {
	switch c.LedgerBackend {
	case store.BackendRedis:
		return c.RedisURL
	case store.BackendPostgres:
		return c.DatabaseURL
	default:
		return ""
	}
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks rules that span fields or need parsing.
func (c *Config) Validate() error {
	var errs []error

	switch c.LedgerBackend {
	case store.BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis ledger backend"))
		}
	case store.BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres ledger backend"))
		}
	case store.BackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("memory ledger backend is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be redis, postgres or memory, got %q", c.LedgerBackend))
	}

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("BASE_URL is invalid: %w", err))
	}
	if _, err := strconv.ParseUint(c.POAPEventID, 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("POAP_EVENT_ID must be a positive integer, got %q", c.POAPEventID))
	}
	if !common.IsHexAddress(c.ENSRegistryAddress) {
		errs = append(errs, fmt.Errorf("ENS_REGISTRY_ADDRESS is not an address: %q", c.ENSRegistryAddress))
	}
	if len(c.SessionSecret) < MinSessionSecretLen {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLen))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.ExternalCallTimeout <= 0 {
		errs = append(errs, errors.New("EXTERNAL_CALL_TIMEOUT must be positive"))
	}
	if floor := service.MinLockTTL(c.ExternalCallTimeout); c.ClaimLockTTL < floor {
		errs = append(errs, fmt.Errorf("CLAIM_LOCK_TTL must be at least %s for EXTERNAL_CALL_TIMEOUT %s", floor, c.ExternalCallTimeout))
	}
	if c.RateLimitMintEnabled && (c.RateLimitMintRPM <= 0 || c.RateLimitMintBurst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_MINT_RPM and RATE_LIMIT_MINT_BURST must be positive"))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.TwitterRedirectURL == "" {
		cfg.TwitterRedirectURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/auth/callback"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
