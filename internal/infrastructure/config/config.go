// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir is the directory name for draft configuration.
	DefaultConfigDir = ".draft"
	// DefaultConfigFile is the default config file name.
	DefaultConfigFile = "config.yaml"
	// DefaultDatabaseFile is the SQLite file used when no path is set.
	DefaultDatabaseFile = "draft.db"
	// MemoryPath opens a private in-memory SQLite database.
	MemoryPath = ":memory:"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported log levels and formats.
var (
	LogLevels  = []string{"silent", "error", "warn", "info", "debug"}
	LogFormats = []string{"text", "json"}
)

// EnvFiles are loaded, when present, before environment overrides apply.
// Variables already set in the environment win.
var EnvFiles = []string{".env", ".env.local"}

// Config holds static infrastructure configuration (read-only after init).
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" env:"DRAFT_DB_DRIVER"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig holds configuration for the SQLite relational database.
type SQLiteConfig struct {
	// Path is the file path to the SQLite database, relative to the project
	// directory, or ":memory:".
	Path string `yaml:"path,omitempty" env:"DRAFT_SQLITE_PATH"`
}

// PostgresConfig holds configuration for the PostgreSQL database.
type PostgresConfig struct {
	DSN      string `yaml:"dsn,omitempty" env:"DRAFT_POSTGRES_DSN"`
	MaxConns int32  `yaml:"max_conns,omitempty" env:"DRAFT_POSTGRES_MAX_CONNS"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" env:"DRAFT_LOG_LEVEL"`
	Format string `yaml:"format,omitempty" env:"DRAFT_LOG_FORMAT"`
}

// MetricsConfig holds optional Prometheus pushgateway settings.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty" env:"DRAFT_PUSHGATEWAY_URL"`
	Job            string `yaml:"job,omitempty" env:"DRAFT_METRICS_JOB"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{
				Path: filepath.Join(DefaultConfigDir, DefaultDatabaseFile),
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Job: "draft",
		},
	}
}

// Load loads configuration from the .draft directory in the given path,
// then applies .env files and environment overrides and validates the
// result.
func Load(basePath string) (*Config, error) {
	configFile := ConfigFilePath(basePath)

	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s (run 'draft init' first)", configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	envFiles := make([]string, len(EnvFiles))
	for i, name := range EnvFiles {
		envFiles[i] = filepath.Join(basePath, name)
	}
	if _, err := LoadEnv(envFiles...); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(basePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads the env files that exist and reports how many did.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

func (c *Config) resolvePaths(basePath string) {
	path := c.Database.SQLite.Path
	if path == "" || path == MemoryPath || filepath.IsAbs(path) {
		return
	}
	c.Database.SQLite.Path = filepath.Join(basePath, path)
}

// Validate checks the driver settings and the log options.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLite.Path == "" {
			errs = append(errs, errors.New("database.sqlite.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, errors.New("database.postgres.dsn is required for the postgres driver"))
		}
		if c.Database.Postgres.MaxConns < 0 {
			errs = append(errs, errors.New("database.postgres.max_conns cannot be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	if c.Log.Level != "" && !slices.Contains(LogLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if c.Log.Format != "" && !slices.Contains(LogFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ConfigDir returns the path to the .draft config directory.
func ConfigDir(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir)
}

// ConfigFilePath returns the path to the config file.
func ConfigFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultConfigFile)
}
