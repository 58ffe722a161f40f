package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the working directory
// and the user config directory, with a .yml or .yaml extension
const FileName = "entitymanagement"

// EnvPrefix prefixes environment overrides: NEXUS_BASE_URL, NEXUS_CACHE_DRIVER, ...
const EnvPrefix = "NEXUS"

// Config represents the tool configuration
type Config struct {
	BaseURL  string         `mapstructure:"base_url"`
	Token    string         `mapstructure:"token"`
	PageSize int            `mapstructure:"page_size"`
	Prefix   string         `mapstructure:"prefix"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Poll     PollConfig     `mapstructure:"poll"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Download DownloadConfig `mapstructure:"download"`
}

// PollConfig bounds find-unique polling
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Attempts int           `mapstructure:"attempts"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig selects the document cache
type CacheConfig struct {
	Driver     string        `mapstructure:"driver"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig represents the Redis connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DownloadConfig configures the S3 download target
type DownloadConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config represents an S3-compatible endpoint
type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// Load reads the configuration from the default locations
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the configuration from path, or from the default
// locations when path is empty. A missing default file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Set defaults. Every key needs one so AutomaticEnv can override it.
	v.SetDefault("base_url", "")
	v.SetDefault("token", "")
	v.SetDefault("page_size", 50)
	v.SetDefault("prefix", "nsg")
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("poll.interval", time.Second)
	v.SetDefault("poll.attempts", 10)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("cache.driver", "none")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("download.s3.region", "us-east-1")
	v.SetDefault("download.s3.endpoint", "")
	v.SetDefault("download.s3.path_style", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, FileName))
		}
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL, got: %s", cfg.BaseURL)
		}
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got: %d", cfg.PageSize)
	}
	if cfg.Poll.Attempts <= 0 {
		return fmt.Errorf("poll.attempts must be positive, got: %d", cfg.Poll.Attempts)
	}
	switch cfg.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.driver must be one of none, memory, redis, got: %s", cfg.Cache.Driver)
	}
	return nil
}

// RequireBaseURL fails when no store is configured
func (c *Config) RequireBaseURL() error {
	if c.BaseURL == "" {
		return fmt.Errorf("no store configured: set base_url in %s.yml or %s_BASE_URL", FileName, EnvPrefix)
	}
	return nil
}
