// Package config provides configuration management for the progress relay.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the progress relay service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	ReadTimeout int    `mapstructure:"readTimeout"` // in seconds
	// WriteTimeout applies to non-streaming responses only; the SSE relay
	// requires it to be zero on the stream path, so the server is created
	// without a write timeout and handlers enforce their own deadlines.
	WriteTimeout int `mapstructure:"writeTimeout"` // in seconds
}

// UpstreamConfig holds the backend analysis service connection configuration.
type UpstreamConfig struct {
	// BaseURL is the base address of the analysis backend that produces
	// progress event streams, e.g. http://localhost:8000.
	BaseURL string `mapstructure:"baseUrl"`
	// HeaderTimeout bounds how long to wait for upstream response headers,
	// in seconds. The stream itself has no overall deadline.
	HeaderTimeout int `mapstructure:"headerTimeout"`
}

// DatabaseConfig holds progress history storage configuration.
type DatabaseConfig struct {
	// Driver selects the history store: memory, sqlite, or postgres.
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite database file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
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

// HeaderTimeoutDuration returns the upstream header timeout as a time.Duration.
func (u *UpstreamConfig) HeaderTimeoutDuration() time.Duration {
	return time.Duration(u.HeaderTimeout) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0) // streaming responses must not time out

	// Upstream defaults - local analysis backend
	v.SetDefault("upstream.baseUrl", "http://localhost:8000")
	v.SetDefault("upstream.headerTimeout", 15)

	// Database defaults - in-memory history unless configured otherwise
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.path", "progress.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "finsight")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "finsight")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "progress-relay")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix FINSIGHT_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/finsight/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so keys where env var naming differs are bound explicitly.
	_ = v.BindEnv("upstream.baseUrl", "FINSIGHT_BACKEND_BASE_URL", "FINSIGHT_UPSTREAM_BASE_URL")
	_ = v.BindEnv("upstream.headerTimeout", "FINSIGHT_UPSTREAM_HEADER_TIMEOUT")
	_ = v.BindEnv("database.dbName", "FINSIGHT_DATABASE_DB_NAME")
	_ = v.BindEnv("nats.clientId", "FINSIGHT_NATS_CLIENT_ID")
	_ = v.BindEnv("nats.maxReconnects", "FINSIGHT_NATS_MAX_RECONNECTS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/finsight/")

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

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Upstream.BaseURL == "" {
		errs = append(errs, "upstream.baseUrl is required")
	}
	if cfg.Upstream.HeaderTimeout < 0 {
		errs = append(errs, "upstream.headerTimeout must not be negative")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "memory":
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required when database.driver is sqlite")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required when database.driver is postgres")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required when database.driver is postgres")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.driver is postgres")
		}
	default:
		errs = append(errs, "database.driver must be one of: memory, sqlite, postgres")
	}

	// NATS is optional - empty URL means use in-memory event bus

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
