package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the market service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	GenesisPath   string          `yaml:"genesis"`
	DataDir       string          `yaml:"data_dir"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
}

// AuthConfig carries the HMAC secret admin tokens are signed with. An empty
// secret disables the admin surface entirely.
type AuthConfig struct {
	AdminSecret string `yaml:"admin_secret"`
}

// RateLimitConfig bounds request rates per client address.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LogConfig describes the optional rotating file sink.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8470",
		RateLimit:     RateLimitConfig{PerSecond: 20, Burst: 40},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return cfg, fmt.Errorf("listen address required")
	}
	if strings.TrimSpace(cfg.GenesisPath) == "" {
		return cfg, fmt.Errorf("genesis path required")
	}
	if cfg.RateLimit.PerSecond <= 0 {
		cfg.RateLimit.PerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.PerSecond) * 2
	}
	return cfg, nil
}
