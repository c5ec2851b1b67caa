package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/JourneymanNYC/promowell-shopify/internal/pipeline"
)

// EnvPrefix prefixes every environment variable read by the binaries.
const EnvPrefix = "PROMOWELL"

// Config is the configuration of the metrics worker, loadable from
// environment variables (PROMOWELL_ prefix), flags, or YAML config files.
type Config struct {
	Addr     string `default:"0.0.0.0:8081" usage:"Probe server listen address"`
	Database DatabaseConfig
	Run      RunConfig
	Retry    pipeline.RetryConfig
	Worker   WorkerConfig
	Graceful GracefulConfig
}

// DatabaseConfig selects the PostgreSQL database.
type DatabaseConfig struct {
	URL      string `usage:"PostgreSQL connection URL (PROMOWELL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MaxConns int32  `default:"8" usage:"Maximum pool connections" flag:"database-max-conns"`
}

// RunConfig controls a single aggregation pass.
type RunConfig struct {
	ActiveOnly  bool `default:"true" usage:"Only aggregate discounts that are currently active" flag:"active-only"`
	Concurrency int  `default:"4"    usage:"Shops aggregated in parallel"`
}

// WorkerConfig controls the periodic scheduler.
type WorkerConfig struct {
	Interval     time.Duration `default:"1h"  usage:"Time between aggregation cycles"`
	LookbackDays int           `default:"3"   usage:"Days ending yesterday re-aggregated each cycle" flag:"lookback-days"`
	MaxStaleness time.Duration `default:"26h" usage:"Readiness fails when the last successful run is older" flag:"max-staleness"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Load fills dst from config files, PROMOWELL_ environment variables and
// command line flags, in increasing precedence. The returned loader exposes
// positional arguments through Flags().Args().
func Load(dst any) (*aconfig.Loader, error) {
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: EnvPrefix,
		Files:     []string{"config.yaml", "/etc/promowell/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return loader, nil
}

// LoadConfig loads the worker configuration and applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if _, err := Load(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Database.Resolve(); err != nil {
		return nil, err
	}
	if port := os.Getenv("PORT"); port != "" && cfg.Addr == "0.0.0.0:8081" {
		cfg.Addr = "0.0.0.0:" + port
	}
	if cfg.Worker.LookbackDays <= 0 {
		return nil, errors.Errorf("lookback days must be positive, got %d", cfg.Worker.LookbackDays)
	}
	return &cfg, nil
}

// Resolve falls back to the platform-provided DATABASE_URL and fails when no
// URL is configured.
func (c *DatabaseConfig) Resolve() error {
	if c.URL == "" {
		c.URL = os.Getenv("DATABASE_URL")
	}
	if c.URL == "" {
		return errors.New("database URL is required: set PROMOWELL_DATABASE_URL or DATABASE_URL")
	}
	return nil
}
