// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/yourorg/unified-bridge/internal/circuitbreaker"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string `env:"PORT" envDefault:"8080"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// OpenTelemetry endpoint for observability
	OtelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Protocol catalog (JSON or YAML); the built-in catalog is used when empty
	ProtocolsFile string `env:"PROTOCOLS_FILE"`

	// Protocols loaded at startup instead of on first use
	PreloadProtocols []string `env:"PRELOAD_PROTOCOLS" envSeparator:","`

	// Health cache and load cache tuning
	HealthTTL       time.Duration `env:"HEALTH_TTL" envDefault:"60s"`
	LoadCooldown    time.Duration `env:"LOAD_COOLDOWN" envDefault:"30s"`
	LoadMaxAttempts int           `env:"LOAD_MAX_ATTEMPTS" envDefault:"3"`

	// Amount above which route scoring favours reliability
	LargeTransferThreshold string `env:"LARGE_TRANSFER_THRESHOLD" envDefault:"1000"`

	// Request validation
	MaxAmount       string `env:"MAX_AMOUNT"`
	StrictAddresses bool   `env:"STRICT_ADDRESSES" envDefault:"true"`

	// Timeouts for route queries and for a whole bridge call made through the API
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	BridgeTimeout  time.Duration `env:"BRIDGE_TIMEOUT" envDefault:"45m"`

	// Inbound rate limiting
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	EnableMetrics bool `env:"ENABLE_METRICS" envDefault:"true"`

	// Bearer key for the /admin endpoints; they are disabled when empty
	AdminAPIKey string `env:"ADMIN_API_KEY"`

	// Result export to an external history service
	ResultWebhookURL      string        `env:"RESULT_WEBHOOK_URL"`
	ResultWebhookAPIKey   string        `env:"RESULT_WEBHOOK_API_KEY"`
	ResultExportBatchSize int           `env:"RESULT_EXPORT_BATCH_SIZE" envDefault:"100"`
	ResultExportInterval  time.Duration `env:"RESULT_EXPORT_INTERVAL" envDefault:"1m"`

	// Signed receipts on bridge responses
	ReceiptSigning    bool          `env:"RECEIPT_SIGNING" envDefault:"false"`
	ReceiptSigningKey string        `env:"RECEIPT_SIGNING_KEY"`
	ReceiptValidity   time.Duration `env:"RECEIPT_VALIDITY" envDefault:"24h"`

	// Buffer of the per-request status channel used by the streaming endpoint
	StatusBuffer int `env:"STATUS_BUFFER" envDefault:"32"`
}

// Load creates a new Config from environment variables
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := decimal.NewFromString(cfg.LargeTransferThreshold); err != nil {
		return Config{}, fmt.Errorf("LARGE_TRANSFER_THRESHOLD: %w", err)
	}
	if cfg.MaxAmount != "" {
		if _, err := decimal.NewFromString(cfg.MaxAmount); err != nil {
			return Config{}, fmt.Errorf("MAX_AMOUNT: %w", err)
		}
	}
	return cfg, nil
}

// LargeTransferAmount returns the large-transfer threshold as a decimal
func (c Config) LargeTransferAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.LargeTransferThreshold)
	if err != nil {
		return decimal.NewFromInt(1000)
	}
	return d
}

// MaxAmountDecimal returns the maximum accepted amount, zero meaning unlimited
func (c Config) MaxAmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// LoadThresholds returns the protocol load cache settings
func (c Config) LoadThresholds() circuitbreaker.Thresholds {
	return circuitbreaker.Thresholds{MaxFailures: c.LoadMaxAttempts, ResetDelay: c.LoadCooldown}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
