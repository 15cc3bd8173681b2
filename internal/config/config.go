package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime configuration for the sitepulse server.
// Values are sourced from environment variables (optionally via .env),
// with defaults that are good enough for a local run.
type Config struct {
	AdminUser     string
	AdminPassword string

	// DatabaseURL is either a postgres:// URL or sqlite://<path>.
	DatabaseURL string

	// RetentionDays is how long events are kept when a project does not set
	// its own retention. Zero keeps events forever.
	RetentionDays int

	ListenAddr string

	// Secret signs admin cookies and session tokens.
	Secret string

	LogLevel       string
	LogDevelopment bool

	AnthropicAPIKey string
	AnthropicModel  string

	// RedisURL enables the cross-instance realtime relay when set.
	RedisURL string

	TrackRatePerSecond float64
	TrackBurst         int

	RollupInterval time.Duration
}

const (
	defaultListenAddr     = ":8080"
	defaultDatabaseURL    = "sqlite://sitepulse.db"
	defaultRetentionDays  = 30
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultTrackRate      = 20
	defaultTrackBurst     = 40
	defaultRollupInterval = time.Hour
	minSecretLength       = 16
)

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		AdminUser:          getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:      getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:        getenv("APP_DATABASE_URL", defaultDatabaseURL),
		ListenAddr:         getenv("APP_LISTEN_ADDR", defaultListenAddr),
		RetentionDays:      defaultRetentionDays,
		Secret:             os.Getenv("APP_SECRET"),
		LogLevel:           getenv("APP_LOG_LEVEL", "info"),
		LogDevelopment:     getbool("APP_LOG_DEVELOPMENT"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     getenv("APP_ANTHROPIC_MODEL", defaultAnthropicModel),
		RedisURL:           os.Getenv("APP_REDIS_URL"),
		TrackRatePerSecond: defaultTrackRate,
		TrackBurst:         defaultTrackBurst,
		RollupInterval:     defaultRollupInterval,
	}

	if v := os.Getenv("APP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}
	if v := os.Getenv("APP_TRACK_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate > 0 {
			cfg.TrackRatePerSecond = rate
		}
	}
	if v := os.Getenv("APP_TRACK_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil && burst > 0 {
			cfg.TrackBurst = burst
		}
	}
	if v := os.Getenv("APP_ROLLUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RollupInterval = d
		}
	}

	return cfg
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return &ValidationError{Field: "APP_DATABASE_URL", Message: "is required"}
	}
	if len(c.Secret) < minSecretLength {
		return &ValidationError{
			Field:   "APP_SECRET",
			Message: fmt.Sprintf("must be at least %d characters", minSecretLength),
		}
	}
	if c.ListenAddr == "" {
		return &ValidationError{Field: "APP_LISTEN_ADDR", Message: "is required"}
	}
	if c.RetentionDays < 0 {
		return &ValidationError{Field: "APP_RETENTION_DAYS", Message: "must not be negative"}
	}
	return nil
}

// PublicURL is the base URL the server is reachable on from the same host.
func (c *Config) PublicURL() string {
	if c.ListenAddr != "" && c.ListenAddr[0] == ':' {
		return "http://localhost" + c.ListenAddr
	}
	return "http://" + c.ListenAddr
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
