// Package config loads the epoch-cache service configuration from defaults,
// an optional config file and EPOCHCACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. EPOCHCACHE_REDIS_ADDR.
const EnvPrefix = "EPOCHCACHE"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the service configuration.
type Config struct {
	ListenAddr string      `mapstructure:"listen_addr"`
	OriginURL  string      `mapstructure:"origin_url"`
	Redis      RedisConfig `mapstructure:"redis"`
	Cache      CacheConfig `mapstructure:"cache"`
	Log        LogConfig   `mapstructure:"log"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig configures the coordinator.
type CacheConfig struct {
	DefaultTTL      time.Duration            `mapstructure:"default_ttl"`
	LockTimeout     time.Duration            `mapstructure:"lock_timeout"`
	WriteTimeout    time.Duration            `mapstructure:"write_timeout"`
	EpochMemoWindow time.Duration            `mapstructure:"epoch_memo_window"`
	MaxBodyBytes    int64                    `mapstructure:"max_body_bytes"`
	Codec           string                   `mapstructure:"codec"`
	NamespaceTTLs   map[string]time.Duration `mapstructure:"namespace_ttls"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

// TTL returns the record TTL for namespace.
func (c CacheConfig) TTL(namespace string) time.Duration {
	if ttl, ok := c.NamespaceTTLs[namespace]; ok && ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}

// Load reads the configuration. An empty path skips the config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("origin_url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.default_ttl", "60s")
	v.SetDefault("cache.lock_timeout", "3s")
	v.SetDefault("cache.write_timeout", "2s")
	v.SetDefault("cache.epoch_memo_window", "3s")
	v.SetDefault("cache.max_body_bytes", 4<<20)
	v.SetDefault("cache.codec", "json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.OriginURL == "" {
		return fmt.Errorf("%w: origin_url is required", ErrInvalid)
	}
	u, err := url.Parse(c.OriginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: origin_url %q is not an absolute URL", ErrInvalid, c.OriginURL)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required", ErrInvalid)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"cache.default_ttl", c.Cache.DefaultTTL},
		{"cache.lock_timeout", c.Cache.LockTimeout},
		{"cache.write_timeout", c.Cache.WriteTimeout},
		{"cache.epoch_memo_window", c.Cache.EpochMemoWindow},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, d.name, d.value)
		}
	}
	if c.Cache.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: cache.max_body_bytes must be positive, got %d", ErrInvalid, c.Cache.MaxBodyBytes)
	}
	for ns, ttl := range c.Cache.NamespaceTTLs {
		if ttl <= 0 {
			return fmt.Errorf("%w: cache.namespace_ttls.%s must be positive, got %s", ErrInvalid, ns, ttl)
		}
	}

	switch c.Cache.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("%w: unknown cache.codec %q", ErrInvalid, c.Cache.Codec)
	}
	return nil
}
