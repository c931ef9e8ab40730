// Package config loads and validates the service configuration from file
// and environment (viper + dotenv).
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	API         APIConfig          `mapstructure:"api"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Collections []CollectionConfig `mapstructure:"collections"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"` // Listen address (default: 0.0.0.0)
	Port int    `mapstructure:"port"` // Listen port (default: 8090)
}

// Validate validates server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Port < 1 || sc.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got: %d", sc.Port)
	}
	return nil
}

// DatabaseConfig contains connection settings for the postgres store.
// When URL is empty the service runs on the in-memory store.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`         // Writer connection string
	ReplicaURL string `mapstructure:"replica_url"` // Optional read replica; enables replicated-read routing
	MaxConns   int32  `mapstructure:"max_conns"`   // Pool size (default: 10)
}

// Validate validates database configuration.
func (dc *DatabaseConfig) Validate() error {
	if dc.ReplicaURL != "" && dc.URL == "" {
		return fmt.Errorf("database replica_url requires url to be set")
	}
	if dc.MaxConns < 0 {
		return fmt.Errorf("database max_conns must not be negative, got: %d", dc.MaxConns)
	}
	return nil
}

// APIConfig contains paging and bulk-write settings.
type APIConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"` // Page size when the request names none (default: 100)
	MaxPageSize     int `mapstructure:"max_page_size"`     // Hard cap on requested page sizes (default: 1000)
	BatchThreshold  int `mapstructure:"batch_threshold"`   // Bulk writes above this count are chunked (default: 50)
	MaxChunkSize    int `mapstructure:"max_chunk_size"`    // Upper bound for one write chunk (default: 500)
}

// Validate validates API configuration.
func (ac *APIConfig) Validate() error {
	if ac.DefaultPageSize < 1 {
		return fmt.Errorf("api default_page_size must be at least 1, got: %d", ac.DefaultPageSize)
	}
	if ac.MaxPageSize < ac.DefaultPageSize {
		return fmt.Errorf("api max_page_size must be >= default_page_size, got: %d", ac.MaxPageSize)
	}
	if ac.BatchThreshold < 1 {
		return fmt.Errorf("api batch_threshold must be at least 1, got: %d", ac.BatchThreshold)
	}
	if ac.MaxChunkSize < 1 {
		return fmt.Errorf("api max_chunk_size must be at least 1, got: %d", ac.MaxChunkSize)
	}
	return nil
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // trace|debug|info|warn|error (default: info)
	Format string `mapstructure:"format"` // json|console (default: json)
}

// Validate validates logging configuration.
func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level must be one of trace|debug|info|warn|error, got: %q", lc.Level)
	}
	switch lc.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got: %q", lc.Format)
	}
	return nil
}

// RelationConfig declares one relation of a collection.
type RelationConfig struct {
	Name       string `mapstructure:"name"`
	Target     string `mapstructure:"target"`
	LocalKey   string `mapstructure:"local_key"`
	ForeignKey string `mapstructure:"foreign_key"`
	HasMany    bool   `mapstructure:"has_many"`
}

// CollectionConfig declares one record collection served by the API.
type CollectionConfig struct {
	Name             string           `mapstructure:"name"`
	PrimaryKey       []string         `mapstructure:"primary_key"`
	Columns          []string         `mapstructure:"columns"`
	Filterable       []string         `mapstructure:"filterable"`
	Sortable         []string         `mapstructure:"sortable"`
	Includable       []string         `mapstructure:"includable"`
	Excluded         []string         `mapstructure:"excluded"`
	Hidden           []string         `mapstructure:"hidden"`
	SoftDelete       bool             `mapstructure:"soft_delete"`
	SoftDeleteColumn string           `mapstructure:"soft_delete_column"`
	DefaultPageSize  int              `mapstructure:"default_page_size"`
	Relations        []RelationConfig `mapstructure:"relations"`
}

// Validate validates the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("api.default_page_size", 100)
	v.SetDefault("api.max_page_size", 1000)
	v.SetDefault("api.batch_threshold", 50)
	v.SetDefault("api.max_chunk_size", 500)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from the given file (optional), a .env file if
// present, and CRUDKIT_-prefixed environment variables, then validates it.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CRUDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
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

// MergeDefault resolves a numeric setting through the explicit priority
// chain: route-level value, then global value, then the hard default. The
// first positive value wins.
func MergeDefault(route, global, hard int) int {
	if route > 0 {
		return route
	}
	if global > 0 {
		return global
	}
	return hard
}
