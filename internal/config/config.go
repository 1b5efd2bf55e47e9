package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig      `envPrefix:"SERVER_"`
	Ledger    LedgerConfig    `envPrefix:"LEDGER_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Directory DirectoryConfig `envPrefix:"DIRECTORY_"`
	Graph     GraphConfig     `envPrefix:"GRAPH_"`
	Logging   LoggingConfig   `envPrefix:"LOG_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"3001"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MetricsEnabled  bool          `env:"METRICS_ENABLED" envDefault:"false"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// LedgerConfig describes the registry contract and how submissions are paced.
type LedgerConfig struct {
	RPCURL          string        `env:"RPC_URL"`
	ContractAddress string        `env:"CONTRACT_ADDRESS"`
	ChainID         int64         `env:"CHAIN_ID" envDefault:"0"`
	Network         string        `env:"NETWORK" envDefault:"localhost"`
	ABIPath         string        `env:"ABI_PATH"`
	AdminAddress    string        `env:"ADMIN_ADDRESS"`
	AdminKey        string        `env:"ADMIN_KEY"`
	ConfirmTimeout  time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"60s"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	QueueDepth      int           `env:"QUEUE_DEPTH" envDefault:"64"`
}

// AuthConfig bounds signature freshness.
type AuthConfig struct {
	FreshnessWindow time.Duration `env:"FRESHNESS_WINDOW" envDefault:"5m"`
	ClockSkew       time.Duration `env:"CLOCK_SKEW" envDefault:"5s"`
}

// DirectoryConfig locates the account directory file.
type DirectoryConfig struct {
	Path string `env:"PATH" envDefault:"account-info.json"`
}

// GraphConfig describes connectivity to the graph database backing the
// submission journal. An empty URI keeps the journal in memory.
type GraphConfig struct {
	URI            string `env:"URI"`
	Database       string `env:"DATABASE"`
	Username       string `env:"USERNAME"`
	Password       string `env:"PASSWORD"`
	MaxConnections int    `env:"MAX_CONNECTIONS" envDefault:"10"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `env:"LEVEL" envDefault:"info"`
	Format        string `env:"FORMAT" envDefault:"text"` // text|json
	IncludeCaller bool   `env:"INCLUDE_CALLER" envDefault:"false"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `env:"ENABLED" envDefault:"true"`
	Endpoint    string `env:"ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"landgate"`
}

// RateLimitConfig throttles write endpoints per client IP.
type RateLimitConfig struct {
	RPS   float64 `env:"RPS" envDefault:"5"`
	Burst int     `env:"BURST" envDefault:"10"`

	// TrustProxy keys clients by X-Forwarded-For. Enable only behind a proxy
	// that overwrites the header.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`
}

// ErrMissingLedger indicates the ledger endpoint or contract is not configured.
var ErrMissingLedger = errors.New("ledger RPC URL and contract address are required")

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.HTTP.Port)
	}
	if c.Ledger.RPCURL == "" || c.Ledger.ContractAddress == "" {
		return ErrMissingLedger
	}
	if !common.IsHexAddress(c.Ledger.ContractAddress) {
		return fmt.Errorf("invalid LEDGER_CONTRACT_ADDRESS %q", c.Ledger.ContractAddress)
	}
	if !common.IsHexAddress(c.Ledger.AdminAddress) {
		return fmt.Errorf("invalid LEDGER_ADMIN_ADDRESS %q", c.Ledger.AdminAddress)
	}
	if c.Ledger.AdminKey == "" {
		return errors.New("LEDGER_ADMIN_KEY is required")
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		return fmt.Errorf("invalid LEDGER_CONFIRM_TIMEOUT %s", c.Ledger.ConfirmTimeout)
	}
	if c.Auth.FreshnessWindow <= 0 {
		return fmt.Errorf("invalid AUTH_FRESHNESS_WINDOW %s", c.Auth.FreshnessWindow)
	}
	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("invalid AUTH_CLOCK_SKEW %s", c.Auth.ClockSkew)
	}
	return nil
}
