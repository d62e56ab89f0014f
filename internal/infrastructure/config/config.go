// Package config loads gateway configuration from environment variables with
// an optional TOML overlay file for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Update    UpdateConfig
	Share     ShareConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" toml:"host"`
}

// UpstreamConfig holds origin server configuration.
type UpstreamConfig struct {
	Origin  string        `envconfig:"UPSTREAM_ORIGIN" default:"http://localhost:3000" toml:"origin"`
	Timeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s" toml:"timeout"`
}

// CacheConfig holds asset cache configuration.
type CacheConfig struct {
	Root       string   `envconfig:"CACHE_ROOT" default:"/var/lib/gestore/cache" toml:"root"`
	Generation string   `envconfig:"CACHE_GENERATION" default:"dev" toml:"generation"`
	Manifest   string   `envconfig:"CACHE_MANIFEST" default:"manifest.yaml" toml:"manifest"`
	Bypass     []string `envconfig:"CACHE_BYPASS" toml:"bypass"`
}

// QueueConfig holds durable queue storage configuration.
type QueueConfig struct {
	Path string `envconfig:"QUEUE_DB" default:"/var/lib/gestore/offline.db" toml:"path"`
}

// UpdateConfig holds update detection configuration.
type UpdateConfig struct {
	VersionURL      string        `envconfig:"VERSION_URL" default:"http://localhost:3000/version.json" toml:"version_url"`
	PollInterval    time.Duration `envconfig:"UPDATE_POLL_INTERVAL" default:"15m" toml:"poll_interval"`
	FirstCheckDelay time.Duration `envconfig:"UPDATE_FIRST_CHECK_DELAY" default:"2s" toml:"first_check_delay"`
}

// ShareConfig holds share ingestion configuration.
type ShareConfig struct {
	Endpoint     string `envconfig:"SHARE_ENDPOINT" default:"/share-target/" toml:"endpoint"`
	RedirectPath string `envconfig:"SHARE_REDIRECT" default:"/" toml:"redirect_path"`
	MaxBodyBytes int64  `envconfig:"SHARE_MAX_BODY" default:"10485760" toml:"max_body_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// Load loads configuration from environment variables. If path is non-empty,
// values from the TOML file override the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load(os.Getenv("GATEWAY_CONFIG_FILE"))
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Upstream: UpstreamConfig{
			Origin:  "http://localhost:3000",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Root:       "/var/lib/gestore/cache",
			Generation: "dev",
			Manifest:   "manifest.yaml",
		},
		Queue: QueueConfig{
			Path: "/var/lib/gestore/offline.db",
		},
		Update: UpdateConfig{
			VersionURL:      "http://localhost:3000/version.json",
			PollInterval:    15 * time.Minute,
			FirstCheckDelay: 2 * time.Second,
		},
		Share: ShareConfig{
			Endpoint:     "/share-target/",
			RedirectPath: "/",
			MaxBodyBytes: 10 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
