package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Cache     CacheConfig     `yaml:"cache"`
	Identity  IdentityConfig  `yaml:"identity"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8600" yaml:"port"`
	Host string `envconfig:"HOST" default:"127.0.0.1" yaml:"host"`
}

// RemoteConfig holds cloud sync API configuration.
type RemoteConfig struct {
	BaseURL  string `envconfig:"REMOTE_BASE_URL" default:"" yaml:"base_url"`
	APIKey   string `envconfig:"REMOTE_API_KEY" default:"" yaml:"api_key"`
	RetryMax int    `envconfig:"REMOTE_RETRY_MAX" default:"2" yaml:"retry_max"`
	Enabled  bool   `envconfig:"REMOTE_ENABLED" default:"true" yaml:"enabled"`
}

// CacheConfig holds local snapshot cache configuration.
type CacheConfig struct {
	Dir string `envconfig:"CACHE_DIR" default:".sessionsync/cache" yaml:"dir"`
}

// IdentityConfig holds auth token verification configuration.
type IdentityConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" default:"" yaml:"jwt_secret"`
}

// EngineConfig holds sync engine tuning knobs.
type EngineConfig struct {
	CreateDebounce time.Duration `envconfig:"CREATE_DEBOUNCE" default:"1s" yaml:"create_debounce"`
	RemoteTimeout  time.Duration `envconfig:"REMOTE_TIMEOUT" default:"3s" yaml:"remote_timeout"`
	FlushTimeout   time.Duration `envconfig:"FLUSH_TIMEOUT" default:"10s" yaml:"flush_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from environment variables, then overlays a
// YAML file on top. Env vars set the baseline so the file only needs the
// keys it wants to change.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8600",
			Host: "127.0.0.1",
		},
		Remote: RemoteConfig{
			RetryMax: 2,
			Enabled:  true,
		},
		Cache: CacheConfig{
			Dir: ".sessionsync/cache",
		},
		Engine: EngineConfig{
			CreateDebounce: time.Second,
			RemoteTimeout:  3 * time.Second,
			FlushTimeout:   10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
