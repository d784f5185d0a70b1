package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency    string `default:"INR" usage:"Currency code sent to the payment provider"`
	Delivery    DeliveryConfig
	Provider    ProviderConfig
	Poll        PollConfig
	Graceful    GracefulConfig
}

// DeliveryConfig controls the delivery charge fallback.
type DeliveryConfig struct {
	DefaultCharge string `default:"70" usage:"Delivery charge when no rule matches the destination" flag:"default-charge"`
}

// DefaultChargeDecimal parses the configured default charge.
func (c DeliveryConfig) DefaultChargeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.DefaultCharge)
}

// ProviderConfig points at the payment gateway.
type ProviderConfig struct {
	URL     string        `usage:"Payment provider base URL (CHECKOUT_PROVIDER_URL)" flag:"provider-url"`
	Timeout time.Duration `default:"10s" usage:"Per-request provider timeout" flag:"provider-timeout"`
}

// PollConfig controls the background payment reconciliation loop.
type PollConfig struct {
	Interval  time.Duration `default:"15s" usage:"Delay between reconciliation passes" flag:"poll-interval"`
	BatchSize int           `default:"50"  usage:"Pending attempts polled per pass" flag:"poll-batch"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Provider.URL == "" {
		return nil, errors.New("provider URL is required: set CHECKOUT_PROVIDER_URL")
	}
	if _, err := cfg.Delivery.DefaultChargeDecimal(); err != nil {
		return nil, errors.Wrap(err, "parse default delivery charge")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
