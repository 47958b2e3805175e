// Package config provides configuration management for pivosync.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for pivosync.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Backend BackendConfig `mapstructure:"backend"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the UI gateway HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// BackendConfig holds the execution backend bridge configuration.
type BackendConfig struct {
	URL            string `mapstructure:"url"`            // WebSocket URL of the execution backend
	RequestTimeout int    `mapstructure:"requestTimeout"` // per-RPC timeout, in seconds
	ReconnectWait  int    `mapstructure:"reconnectWait"`  // base reconnect backoff, in seconds
	MaxReconnects  int    `mapstructure:"maxReconnects"`  // 0 means retry forever
}

// AgentsConfig holds the agent catalog configuration.
type AgentsConfig struct {
	// CatalogPath is an optional YAML file overriding the built-in agent catalog.
	CatalogPath string `mapstructure:"catalogPath"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns the per-RPC timeout as a time.Duration.
func (b *BackendConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(b.RequestTimeout) * time.Second
}

// ReconnectWaitDuration returns the reconnect backoff base as a time.Duration.
func (b *BackendConfig) ReconnectWaitDuration() time.Duration {
	return time.Duration(b.ReconnectWait) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	if env := os.Getenv("PIVOSYNC_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7831)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "pivosync")
	v.SetDefault("nats.maxReconnects", 10)

	// Backend bridge defaults
	v.SetDefault("backend.url", "ws://localhost:7830/bridge")
	v.SetDefault("backend.requestTimeout", 30)
	v.SetDefault("backend.reconnectWait", 2)
	v.SetDefault("backend.maxReconnects", 0)

	// Agent catalog defaults
	v.SetDefault("agents.catalogPath", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix PIVOSYNC_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/pivosync/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("PIVOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("backend.url", "PIVOSYNC_BACKEND_URL")
	_ = v.BindEnv("backend.requestTimeout", "PIVOSYNC_BACKEND_REQUEST_TIMEOUT")
	_ = v.BindEnv("agents.catalogPath", "PIVOSYNC_AGENTS_CATALOG_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pivosync/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration values are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if cfg.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.requestTimeout must be positive")
	}
	return nil
}
