package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // timezone database for minimal images

	"nilecruise/internal/pricing"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath     = "NILECRUISE_CONFIG_PATH"
	DefaultConfigPath = "configs/config.yaml"
)

type Config struct {
	Server struct {
		Port                  int      `yaml:"port"`
		APIKeys               []string `yaml:"api_keys"`
		RateLimitRPS          float64  `yaml:"rate_limit_rps"`
		RateLimitBurst        int      `yaml:"rate_limit_burst"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone                   string `yaml:"timezone"`
		VesselPricing              string `yaml:"vessel_pricing"`
		MaxRangeDays               int    `yaml:"max_range_days"`
		CatalogPath                string `yaml:"catalog_path"`
		CatalogWatchIntervalSecond int    `yaml:"catalog_watch_interval_seconds"`
	} `yaml:"booking"`

	Backup BackupConfig `yaml:"backup"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Path returns the config file path from the environment or the default.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/nilecruise.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8081
	}
	if cfg.Monitoring.PrometheusPort == 0 {
		cfg.Monitoring.PrometheusPort = 9090
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "nilecruise"
	}

	if _, err := pricing.ParseMode(cfg.Booking.VesselPricing); err != nil {
		return nil, err
	}
	if _, err := cfg.loadLocation(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// VesselPricing returns the configured vessel pricing mode. Load has already
// rejected unknown values.
func (c *Config) VesselPricing() pricing.Mode {
	m, err := pricing.ParseMode(c.Booking.VesselPricing)
	if err != nil {
		return pricing.PerCabin
	}
	return m
}

// Location is the timezone that defines "today" for the past-date rule.
func (c *Config) Location() *time.Location {
	loc, err := c.loadLocation()
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) loadLocation() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("booking.timezone %q: %w", c.Booking.Timezone, err)
	}
	return loc, nil
}

func (c *Config) MaxRangeDays() int {
	if c.Booking.MaxRangeDays <= 0 {
		return 90
	}
	return c.Booking.MaxRangeDays
}

func (c *Config) CatalogPath() string {
	if c.Booking.CatalogPath == "" {
		return DefaultCatalogPath
	}
	return c.Booking.CatalogPath
}

func (c *Config) CatalogWatchInterval() time.Duration {
	if c.Booking.CatalogWatchIntervalSecond <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Booking.CatalogWatchIntervalSecond) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RateLimit returns requests per second and burst per client. Zero rps
// disables limiting.
func (c *Config) RateLimit() (float64, int) {
	burst := c.Server.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}
	return c.Server.RateLimitRPS, burst
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}
