// Package config defines the global configuration structure for the mailsmith
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"mailsmith/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the mailsmith service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"mailsmith"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Feeds         FeedsConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server tuning parameters.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// RequestTimeout bounds a whole request, including the feed fetches a
	// synchronous render performs.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	// MaxDefinitionBytes caps the size of an uploaded document definition.
	MaxDefinitionBytes int64 `envconfig:"MAX_DEFINITION_BYTES" default:"1048576"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// RenderJobQueue receives asynchronous render jobs published by the API
	// and consumed by the render worker.
	RenderJobQueue string `envconfig:"SQS_RENDER_JOBS" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// FeedsConfig holds settings for outbound feed fetching.
type FeedsConfig struct {
	UserAgent    string        `envconfig:"FEED_USER_AGENT" default:"mailsmith-feeds/1.0"`
	FetchTimeout time.Duration `envconfig:"FEED_FETCH_TIMEOUT" default:"10s"`
	// MaxBodyBytes caps a feed document after decompression, so oversized
	// and zip-bomb responses fail instead of exhausting memory.
	MaxBodyBytes int64         `envconfig:"FEED_MAX_BODY_BYTES" default:"5242880"`
	MaxRetries   int           `envconfig:"FEED_MAX_RETRIES" default:"3"`
	RetryMinWait time.Duration `envconfig:"FEED_RETRY_MIN_WAIT" default:"500ms"`
	RetryMaxWait time.Duration `envconfig:"FEED_RETRY_MAX_WAIT" default:"10s"`
}

// AuthConfig holds API key hashing parameters.
type AuthConfig struct {
	// BcryptCost is the work factor for hashing issued API keys. Valid
	// bcrypt costs run from 4 to 31.
	BcryptCost int `envconfig:"AUTH_BCRYPT_COST" default:"10" validate:"min=4,max=31"`
}

// SecurityConfig holds security-related configuration including admin access
// and CORS settings.
type SecurityConfig struct {
	// AdminAPIKey guards the key-issuing endpoint; tenant keys live in the
	// database and are verified against their bcrypt hashes.
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Mailsmith"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
