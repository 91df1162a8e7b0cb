// Package config loads the service configuration from YAML with
// environment overrides. Secrets are only ever taken from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the audit service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Klaviyo KlaviyoConfig `yaml:"klaviyo"`
	Audit   AuditConfig   `yaml:"audit"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// KlaviyoConfig holds provider API settings. The API key is never read from
// YAML; it comes from KLAVIYO_API_KEY only.
type KlaviyoConfig struct {
	APIKey         string `yaml:"-"`
	BaseURL        string `yaml:"base_url"`
	Revision       string `yaml:"revision"`
	RateTier       string `yaml:"rate_tier"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AuditConfig holds default audit run parameters.
type AuditConfig struct {
	WindowDays   int    `yaml:"window_days"`
	GrowthMonths int    `yaml:"growth_months"`
	Industry     string `yaml:"industry"`
	FastMode     bool   `yaml:"fast_mode"`
}

// StorageConfig holds bundle persistence settings.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	MaxBundles int    `yaml:"max_bundles"`
}

// CacheConfig holds the optional Redis report-cache settings. When URL is
// empty the in-process cache is used. Credentials ride in the URL and come
// from the environment only.
type CacheConfig struct {
	URL string `yaml:"-"`
}

// Load reads the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML file then applies environment overrides. A
// .env file is honored when present. Missing YAML is tolerated so the
// service can run on environment alone.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("KLAVIYO_API_KEY"); v != "" {
		cfg.Klaviyo.APIKey = v
	}
	if v := os.Getenv("KLAVIYO_BASE_URL"); v != "" {
		cfg.Klaviyo.BaseURL = v
	}
	if v := os.Getenv("KLAVIYO_RATE_TIER"); v != "" {
		cfg.Klaviyo.RateTier = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AUDIT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.URL = v
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Klaviyo.RateTier == "" {
		c.Klaviyo.RateTier = "medium"
	}
	if c.Klaviyo.TimeoutSeconds == 0 {
		c.Klaviyo.TimeoutSeconds = 30
	}
	if c.Audit.WindowDays == 0 {
		c.Audit.WindowDays = 30
	}
	if c.Audit.GrowthMonths == 0 {
		c.Audit.GrowthMonths = 6
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.MaxBundles == 0 {
		c.Storage.MaxBundles = 100
	}
}

// Validate checks the settings a run cannot proceed without.
func (c *Config) Validate() error {
	if c.Klaviyo.APIKey == "" {
		return fmt.Errorf("KLAVIYO_API_KEY is required")
	}
	switch c.Klaviyo.RateTier {
	case "small", "medium", "large", "xl":
	default:
		return fmt.Errorf("unknown rate tier %q", c.Klaviyo.RateTier)
	}
	return nil
}
