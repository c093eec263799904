// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hemdata/listingharvester/internal/harvest"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	Rate    RateConfig    `mapstructure:"rate"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarvestConfig governs the crawl itself.
type HarvestConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	BackStopDate string        `mapstructure:"back_stop_date"`
	RunDuration  time.Duration `mapstructure:"run_duration"`
	DataDir      string        `mapstructure:"data_dir"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// RateConfig bounds the outbound request rate.
type RateConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HTTPConfig configures fetch timeout and retry behavior.
type HTTPConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// MetricsConfig controls the optional metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.base_url", "https://www.booli.se/")
	v.SetDefault("harvest.back_stop_date", "2015-01-01")
	v.SetDefault("harvest.run_duration", "1h")
	v.SetDefault("harvest.data_dir", "data_storage")
	v.SetDefault("harvest.user_agent", "listingharvester/1.0")
	v.SetDefault("rate.max_requests", 200)
	v.SetDefault("rate.window", "1m")
	v.SetDefault("rate.max_delay", "20s")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_attempts", 2)
	v.SetDefault("http.retry_delay", "1s")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Harvest.BaseURL) == "" {
		return fmt.Errorf("harvest.base_url is required")
	}
	if c.Harvest.RunDuration <= 0 {
		return fmt.Errorf("harvest.run_duration must be > 0")
	}
	if strings.TrimSpace(c.Harvest.DataDir) == "" {
		return fmt.Errorf("harvest.data_dir is required")
	}
	if _, err := time.Parse(harvest.DateLayout, c.Harvest.BackStopDate); err != nil {
		return fmt.Errorf("harvest.back_stop_date must be YYYY-MM-DD: %w", err)
	}
	if c.Rate.MaxRequests <= 0 {
		return fmt.Errorf("rate.max_requests must be > 0")
	}
	if c.Rate.Window <= 0 {
		return fmt.Errorf("rate.window must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.ListenAddr) == "" {
		return fmt.Errorf("metrics.listen_addr must be set when metrics are enabled")
	}
	return nil
}

// BackStop returns the parsed back-stop date. Validate must have passed.
func (c Config) BackStop() time.Time {
	t, _ := time.Parse(harvest.DateLayout, c.Harvest.BackStopDate)
	return t
}
