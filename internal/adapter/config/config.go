// Package config provides configuration management for the telemetry
// backend. It supports environment variables, config files (YAML/JSON),
// and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the telemetry backend.
type Config struct {
	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// DevicesConfigPath is the path to the device catalog file
	DevicesConfigPath string `mapstructure:"devices_config_path"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// API configuration (authentication, body limits, CORS)
	API APIConfig `mapstructure:"api"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Ingest configuration
	Ingest IngestConfig `mapstructure:"ingest"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// APIConfig holds API security configuration.
type APIConfig struct {
	// AuthEnabled enables API key authentication for protected endpoints
	AuthEnabled bool `mapstructure:"auth_enabled"`

	// APIKey is the secret key required for authenticated endpoints
	// In production, use a strong, randomly generated key
	APIKey string `mapstructure:"api_key"`

	// MaxRequestBodySize is the maximum allowed request body size in bytes
	// Default: 1MB. Set to 0 to disable limit (not recommended).
	MaxRequestBodySize int64 `mapstructure:"max_request_body_size"`

	// AllowedOrigins for CORS. Use "*" to allow all (not recommended for production)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig holds measurement store configuration.
type StorageConfig struct {
	// Path is the SQLite database file path
	Path string `mapstructure:"path"`

	// Retention is how long measurements are kept; 0 disables the sweeper
	Retention time.Duration `mapstructure:"retention"`

	// PurgeInterval is how often the retention sweeper runs
	PurgeInterval time.Duration `mapstructure:"purge_interval"`

	// Circuit breaker configuration for inserts
	CBInterval         time.Duration `mapstructure:"cb_interval"`
	CBTimeout          time.Duration `mapstructure:"cb_timeout"`
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"`
}

// IngestConfig holds ingest pipeline configuration.
type IngestConfig struct {
	// StaleAfter marks a channel stale in the status view when its
	// latest record is older than this
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file search paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/powerlytic")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, will use defaults and env vars
	}

	// Environment variable binding
	v.SetEnvPrefix("POWERLYTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("devices_config_path", "./config/devices.yaml")

	// HTTP
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	// API security
	v.SetDefault("api.auth_enabled", false)
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.max_request_body_size", 1048576) // 1MB default
	v.SetDefault("api.allowed_origins", []string{})

	// Storage
	v.SetDefault("storage.path", "./data/measurements.db")
	v.SetDefault("storage.retention", 90*24*time.Hour)
	v.SetDefault("storage.purge_interval", 1*time.Hour)
	v.SetDefault("storage.cb_interval", 10*time.Second)
	v.SetDefault("storage.cb_timeout", 30*time.Second)
	v.SetDefault("storage.cb_failure_threshold", 5)

	// Ingest
	v.SetDefault("ingest.stale_after", 15*time.Minute)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// bindEnvVars binds environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	// General environment variables
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("devices_config_path", "DEVICES_CONFIG_PATH")

	// HTTP
	_ = v.BindEnv("http.port", "HTTP_PORT")

	// API security
	_ = v.BindEnv("api.auth_enabled", "API_AUTH_ENABLED")
	_ = v.BindEnv("api.api_key", "API_KEY")
	_ = v.BindEnv("api.max_request_body_size", "API_MAX_REQUEST_BODY_SIZE")

	// Storage
	_ = v.BindEnv("storage.path", "STORAGE_PATH")
	_ = v.BindEnv("storage.retention", "STORAGE_RETENTION")

	// Logging
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Storage.Retention > 0 && c.Storage.PurgeInterval <= 0 {
		return fmt.Errorf("purge interval must be positive when retention is set")
	}
	if c.API.AuthEnabled && c.API.APIKey == "" {
		return fmt.Errorf("api key is required when auth is enabled")
	}
	return nil
}
