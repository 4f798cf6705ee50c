package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/namihq/stash/pkg/stash"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env       string `mapstructure:"STASH_ENV"`
	Dir       string `mapstructure:"STASH_DIR"`
	Namespace string `mapstructure:"STASH_NAMESPACE"`

	Maintenance MaintenanceConfig `mapstructure:",squash"`
	Metrics     MetricsConfig     `mapstructure:",squash"`
}

type MaintenanceConfig struct {
	FlushInterval    time.Duration `mapstructure:"STASH_FLUSH_INTERVAL"`
	AppendRetries    int           `mapstructure:"STASH_APPEND_RETRIES"`
	AppendRetryDelay time.Duration `mapstructure:"STASH_APPEND_RETRY_DELAY"`
}

type MetricsConfig struct {
	// Addr is where watch mode serves the scrape endpoint; empty disables it.
	Addr string `mapstructure:"STASH_METRICS_ADDR"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if !filepath.IsAbs(path) {
			if resolved, err := filepath.Abs(path); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("STASH_ENV", "dev")
	viper.SetDefault("STASH_DIR", "")
	viper.SetDefault("STASH_NAMESPACE", "default")
	viper.SetDefault("STASH_FLUSH_INTERVAL", "1m")
	viper.SetDefault("STASH_APPEND_RETRIES", stash.DefaultAppendRetries)
	viper.SetDefault("STASH_APPEND_RETRY_DELAY", "5s")
	viper.SetDefault("STASH_METRICS_ADDR", "")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Dir == "" {
		dir, err := stash.DefaultRootDir()
		if err != nil {
			return nil, err
		}
		cfg.Dir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid STASH_ENV %q (must be dev or prod)", c.Env)
	}
	if c.Namespace == "" {
		return fmt.Errorf("STASH_NAMESPACE is required")
	}
	if c.Maintenance.FlushInterval <= 0 {
		return fmt.Errorf("STASH_FLUSH_INTERVAL must be positive")
	}
	if c.Maintenance.AppendRetries <= 0 {
		return fmt.Errorf("STASH_APPEND_RETRIES must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// LogPath returns the namespace's log file location under the cache root.
func (c *Config) LogPath() string {
	return filepath.Join(c.Dir, c.Namespace, stash.LogFileName)
}
