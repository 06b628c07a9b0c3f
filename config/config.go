package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the apiscout service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Search   SearchConfig   `mapstructure:"search"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// SessionsConfig controls the session registry.
type SessionsConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// CacheConfig controls the in-memory index cache.
type CacheConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MemoryThreshold int64         `mapstructure:"memory_threshold_bytes"`
}

// FetchConfig controls outbound document fetches.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	DetailsTimeout time.Duration `mapstructure:"details_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SearchConfig controls query evaluation defaults.
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxResults   int `mapstructure:"max_results"`
}

// StorageConfig controls the on-disk warm-start cache. The directory is
// best-effort: deleting it loses nothing but performance.
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

func (c *Config) Validate() error {
	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("sessions.max_sessions must be > 0")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be > 0")
	}
	return nil
}

// Load reads configuration from an optional YAML file and APISCOUT_* env
// vars, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("server.address", ":10020")
	v.SetDefault("sessions.default_ttl", time.Hour)
	v.SetDefault("sessions.max_sessions", 100)
	v.SetDefault("sessions.sweep_interval", time.Minute)
	v.SetDefault("cache.capacity", 50)
	v.SetDefault("cache.default_ttl", 15*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("cache.memory_threshold_bytes", int64(256<<20))
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.details_timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "apiscout/1.0")
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.max_results", 50)
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.dir", ".apiscout")

	v.SetEnvPrefix("APISCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
