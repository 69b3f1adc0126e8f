package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"jdata/internal/bse"
	"jdata/internal/nse"
	"jdata/internal/rbi"
)

// AppName names the cache directory and the per-user config directory.
const AppName = "jdata"

// Config holds all configuration for the jdata application.
type Config struct {
	// Disk cache root; empty selects the per-user cache directory
	CacheDir string `mapstructure:"cache_dir"`

	// Historical fetch pool
	Workers        int  `mapstructure:"workers"`
	UseConcurrency bool `mapstructure:"use_concurrency"`

	// Request bounds
	Timeout        time.Duration `mapstructure:"timeout"`
	LiveTimeout    time.Duration `mapstructure:"live_timeout"`
	ArchiveTimeout time.Duration `mapstructure:"archive_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	LiveCacheTTL   time.Duration `mapstructure:"live_cache_ttl"`

	LogLevel string `mapstructure:"log_level"`

	// Base URLs for upstream sites (configurable for testing)
	NSEBaseURL                  string `mapstructure:"nse_base_url"`
	NSEArchivesBaseURL          string `mapstructure:"nse_archives_base_url"`
	NiftyIndicesBaseURL         string `mapstructure:"niftyindices_base_url"`
	NiftyIndicesArchivesBaseURL string `mapstructure:"niftyindices_archives_base_url"`
	BSEBaseURL                  string `mapstructure:"bse_base_url"`
	RBIBaseURL                  string `mapstructure:"rbi_base_url"`
}

// Load reads configuration from environment variables and optional config file.
// Environment variables take precedence over config file values.
//
// Recognised environment variables:
//   - JDATA_CACHE_DIR (optional, defaults to the user cache dir)
//   - JDATA_WORKERS, JDATA_USE_CONCURRENCY
//   - JDATA_TIMEOUT, JDATA_LIVE_TIMEOUT, JDATA_ARCHIVE_TIMEOUT
//   - JDATA_RETRY_COUNT, JDATA_LIVE_CACHE_TTL, JDATA_LOG_LEVEL
//   - NSE_BASE_URL, NSE_ARCHIVES_BASE_URL, NIFTYINDICES_BASE_URL,
//     NIFTYINDICES_ARCHIVES_BASE_URL, BSE_BASE_URL, RBI_BASE_URL
//     (optional, default to production)
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("cache_dir", "")
	v.SetDefault("workers", 2)
	v.SetDefault("use_concurrency", true)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("live_timeout", 5*time.Second)
	v.SetDefault("archive_timeout", 4*time.Second)
	v.SetDefault("retry_count", 3)
	v.SetDefault("live_cache_ttl", 5*time.Second)
	v.SetDefault("log_level", "info")

	v.SetDefault("nse_base_url", nse.DefaultBaseURL)
	v.SetDefault("nse_archives_base_url", nse.DefaultArchivesBaseURL)
	v.SetDefault("niftyindices_base_url", nse.DefaultIndicesBaseURL)
	v.SetDefault("niftyindices_archives_base_url", nse.DefaultIndexArchivesBaseURL)
	v.SetDefault("bse_base_url", bse.DefaultBaseURL)
	v.SetDefault("rbi_base_url", rbi.DefaultBaseURL)

	// Optionally read from config file if it exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/." + AppName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("cache_dir", "JDATA_CACHE_DIR")
	v.BindEnv("workers", "JDATA_WORKERS")
	v.BindEnv("use_concurrency", "JDATA_USE_CONCURRENCY")
	v.BindEnv("timeout", "JDATA_TIMEOUT")
	v.BindEnv("live_timeout", "JDATA_LIVE_TIMEOUT")
	v.BindEnv("archive_timeout", "JDATA_ARCHIVE_TIMEOUT")
	v.BindEnv("retry_count", "JDATA_RETRY_COUNT")
	v.BindEnv("live_cache_ttl", "JDATA_LIVE_CACHE_TTL")
	v.BindEnv("log_level", "JDATA_LOG_LEVEL")

	v.BindEnv("nse_base_url", "NSE_BASE_URL")
	v.BindEnv("nse_archives_base_url", "NSE_ARCHIVES_BASE_URL")
	v.BindEnv("niftyindices_base_url", "NIFTYINDICES_BASE_URL")
	v.BindEnv("niftyindices_archives_base_url", "NIFTYINDICES_ARCHIVES_BASE_URL")
	v.BindEnv("bse_base_url", "BSE_BASE_URL")
	v.BindEnv("rbi_base_url", "RBI_BASE_URL")

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var invalid []string
	if c.Workers < 1 {
		invalid = append(invalid, fmt.Sprintf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Timeout <= 0 {
		invalid = append(invalid, "timeout must be positive")
	}
	if c.LiveTimeout <= 0 {
		invalid = append(invalid, "live_timeout must be positive")
	}
	if c.ArchiveTimeout <= 0 {
		invalid = append(invalid, "archive_timeout must be positive")
	}
	if c.RetryCount < 0 {
		invalid = append(invalid, "retry_count must not be negative")
	}
	if c.LiveCacheTTL <= 0 {
		invalid = append(invalid, "live_cache_ttl must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, err.Error())
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q is not one of debug, info, warn, error", s)
	}
	return l, nil
}
