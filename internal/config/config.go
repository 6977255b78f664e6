// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Session verification. The signing key is derived from AuthSecret.
	AuthSecret        string `env:"AUTH_SECRET,required,notEmpty"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"inkforge.session-token"`

	// Generation engine
	EngineURL              string        `env:"ENGINE_URL" envDefault:"http://127.0.0.1:8000"`
	EngineTimeout          time.Duration `env:"ENGINE_TIMEOUT" envDefault:"120s"`
	EngineMaxResponseBytes int64         `env:"ENGINE_MAX_RESPONSE_BYTES" envDefault:"10485760"`

	// When true, a credit is refunded if the artifact could not be saved
	// after the engine delivered it.
	RefundOnPersistFailure bool `env:"REFUND_ON_PERSIST_FAILURE" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. WriteTimeout must outlast EngineTimeout.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"150s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting for the generation endpoint (per user)
	RateLimitGenerateEnabled   bool `env:"RATE_LIMIT_GENERATE_ENABLED" envDefault:"true"`
	RateLimitGeneratePerMinute int  `env:"RATE_LIMIT_GENERATE_PER_MINUTE" envDefault:"10"`
	RateLimitGenerateBurst     int  `env:"RATE_LIMIT_GENERATE_BURST" envDefault:"3"`

	// Rate limiting per client IP, applied to all /api routes
	RateLimitIPEnabled bool `env:"RATE_LIMIT_IP_ENABLED" envDefault:"true"`
	RateLimitIPRPS     int  `env:"RATE_LIMIT_IP_RPS" envDefault:"5"`
	RateLimitIPBurst   int  `env:"RATE_LIMIT_IP_BURST" envDefault:"30"`

	// Metrics exposition
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Usage aggregation worker
	UsageWorkerEnabled bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 10MB, reference images included)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"10485760"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
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

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.EngineURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("ENGINE_URL must be an absolute http(s) URL, got %q", c.EngineURL)
	}
	if c.EngineTimeout <= 0 {
		return errors.New("ENGINE_TIMEOUT must be positive")
	}
	if c.WriteTimeout <= c.EngineTimeout {
		return fmt.Errorf("WRITE_TIMEOUT (%s) must exceed ENGINE_TIMEOUT (%s)", c.WriteTimeout, c.EngineTimeout)
	}
	if c.EngineMaxResponseBytes <= 0 {
		return errors.New("ENGINE_MAX_RESPONSE_BYTES must be positive")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.EngineURL = strings.TrimSuffix(cfg.EngineURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
