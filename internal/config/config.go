// Package config loads the service configuration from environment variables
// and an optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration.
// Priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv             string        // Application environment (dev, staging, prod)
	HTTPAddr           string        // HTTP server bind address
	StoreType          string        // Rule and diet storage backend (memory or postgres)
	DatabaseURL        string        // PostgreSQL connection string
	RedisURL           string        // Redis URL for the shared rules cache and notifications; empty disables Redis
	RedisChannel       string        // Pub/sub channel for coach notifications
	RulesCacheTTL      time.Duration // TTL of the active rules cache
	DietsSeedFile      string        // YAML/JSON diets seed for the memory store
	LogLevel           string        // TRACE, DEBUG, INFO, WARN, ERROR, FATAL
	ErrorSampleRate    int           // Log 1 out of N warnings and errors
	OTELEnabled        bool          // Export logs through OTLP
	OTELServiceName    string        // OTEL service.name
	SweepEnabled       bool          // Run the recurring sweep in-process
	SweepAt            string        // Daily sweep time, HH:MM
	SweepTimezone      string        // IANA zone the sweep time is expressed in
	EngineWorkers      int           // Diets processed concurrently by the sweep
	FeedbackWindow     time.Duration // How far back feedback conditions read history
	RateLimitPerMinute int           // API requests per IP per minute
}

// Load reads configuration. It does not validate it; call Validate for that.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // Optional; silently ignored if the file doesn't exist
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	setConfigDefaults(v)

	return &Config{
		AppEnv:             v.GetString("APP_ENV"),
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		StoreType:          v.GetString("STORE_TYPE"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		RedisChannel:       v.GetString("REDIS_CHANNEL"),
		RulesCacheTTL:      v.GetDuration("RULES_CACHE_TTL"),
		DietsSeedFile:      v.GetString("DIETS_SEED_FILE"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		ErrorSampleRate:    v.GetInt("ERROR_SAMPLE_RATE"),
		OTELEnabled:        v.GetBool("OTEL_ENABLED"),
		OTELServiceName:    v.GetString("OTEL_SERVICE_NAME"),
		SweepEnabled:       v.GetBool("SWEEP_ENABLED"),
		SweepAt:            v.GetString("SWEEP_AT"),
		SweepTimezone:      v.GetString("SWEEP_TIMEZONE"),
		EngineWorkers:      v.GetInt("ENGINE_WORKERS"),
		FeedbackWindow:     v.GetDuration("FEEDBACK_WINDOW"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}, nil
}

// setConfigDefaults sets development defaults for every option
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("STORE_TYPE", "memory")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_CHANNEL", "dietrules:notifications")
	v.SetDefault("RULES_CACHE_TTL", "5m")
	v.SetDefault("DIETS_SEED_FILE", "")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("ERROR_SAMPLE_RATE", 1)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "dietrules")
	v.SetDefault("SWEEP_ENABLED", false)
	v.SetDefault("SWEEP_AT", "06:00")
	v.SetDefault("SWEEP_TIMEZONE", "UTC")
	v.SetDefault("ENGINE_WORKERS", 4)
	v.SetDefault("FEEDBACK_WINDOW", "24h")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
}

// ValidationError describes the first configuration field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate fails fast on settings the service cannot start with
func (c *Config) Validate() error {
	if c.StoreType != "memory" && c.StoreType != "postgres" {
		return ValidationError{
			Field:   "STORE_TYPE",
			Message: fmt.Sprintf("must be 'memory' or 'postgres', got '%s'", c.StoreType),
		}
	}
	if c.StoreType == "postgres" && c.DatabaseURL == "" {
		return ValidationError{
			Field:   "DATABASE_URL",
			Message: "database URL is required when STORE_TYPE=postgres",
		}
	}
	if c.HTTPAddr == "" {
		return ValidationError{
			Field:   "HTTP_ADDR",
			Message: "HTTP server address cannot be empty",
		}
	}
	if c.EngineWorkers < 1 {
		return ValidationError{
			Field:   "ENGINE_WORKERS",
			Message: fmt.Sprintf("must be at least 1, got %d", c.EngineWorkers),
		}
	}
	if c.FeedbackWindow <= 0 {
		return ValidationError{
			Field:   "FEEDBACK_WINDOW",
			Message: fmt.Sprintf("must be positive, got %s", c.FeedbackWindow),
		}
	}
	if c.RulesCacheTTL < 0 {
		return ValidationError{
			Field:   "RULES_CACHE_TTL",
			Message: fmt.Sprintf("cannot be negative, got %s", c.RulesCacheTTL),
		}
	}
	if _, _, err := c.SweepTime(); err != nil {
		return ValidationError{Field: "SWEEP_AT", Message: err.Error()}
	}
	if _, err := c.SweepLocation(); err != nil {
		return ValidationError{Field: "SWEEP_TIMEZONE", Message: err.Error()}
	}
	return nil
}

// SweepTime parses SweepAt into hour and minute
func (c *Config) SweepTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.SweepAt)
	if err != nil {
		return 0, 0, fmt.Errorf("must be HH:MM, got '%s'", c.SweepAt)
	}
	return t.Hour(), t.Minute(), nil
}

// SweepLocation loads SweepTimezone
func (c *Config) SweepLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SweepTimezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone '%s'", c.SweepTimezone)
	}
	return loc, nil
}
