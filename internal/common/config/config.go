// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultCLITimeoutMS is the operation timeout applied when no valid
// override is configured.
const DefaultCLITimeoutMS = 600000

// Config is the top-level service configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
}

// ServerConfig controls the HTTP/WebSocket listener
type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int `mapstructure:"write_timeout"` // seconds
}

// ReadTimeoutDuration returns the read timeout as a duration
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a duration
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects and configures the backing store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// NATSConfig configures the optional event bus connection
type NATSConfig struct {
	URL     string `mapstructure:"url"` // empty disables the bus
	Name    string `mapstructure:"name"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// AuthConfig configures token issuance and verification
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	TokenTTL int    `mapstructure:"token_ttl"` // hours
}

// TokenTTLDuration returns the token lifetime as a duration
func (a AuthConfig) TokenTTLDuration() time.Duration {
	return time.Duration(a.TokenTTL) * time.Hour
}

// ClaudeConfig configures the CLI subprocess bridge
type ClaudeConfig struct {
	Binary       string `mapstructure:"binary"`
	CLITimeoutMS int    `mapstructure:"cli_timeout_ms"`
}

// CLITimeout returns the configured operation timeout. Non-positive
// values fall back to the default, so a misconfigured override can
// never disable the timer.
func (c ClaudeConfig) CLITimeout() time.Duration {
	ms := c.CLITimeoutMS
	if ms <= 0 {
		ms = DefaultCLITimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Load reads configuration from config.yaml (if present) and the
// environment (AGENTDECK_ prefix, e.g. AGENTDECK_SERVER_PORT).
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "agentdeck.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "agentdeck")
	v.SetDefault("nats.timeout", 5)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24)
	v.SetDefault("claude.binary", "claude")
	v.SetDefault("claude.cli_timeout_ms", DefaultCLITimeoutMS)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdeck")

	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required (set AGENTDECK_AUTH_SECRET)")
	}

	return &cfg, nil
}
