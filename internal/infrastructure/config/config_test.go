package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, filepath.Join(".draft", "draft.db"), cfg.Database.SQLite.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "draft", cfg.Metrics.Job)
	assert.NoError(t, cfg.Validate())
}

func TestConfigDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/project", ".draft"), ConfigDir("/project"))
}

func TestConfigFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/project", ".draft", "config.yaml"), ConfigFilePath("/project"))
}

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "draft init")
	})

	t.Run("default file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, WriteDefault(dir))

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, filepath.Join(dir, ".draft", "draft.db"), cfg.Database.SQLite.Path)
		assert.Equal(t, "draft", cfg.Metrics.Job)
	})

	t.Run("memory path is kept", func(t *testing.T) {
		dir := t.TempDir()
		cfg := Default()
		cfg.Database.SQLite.Path = MemoryPath
		require.NoError(t, Write(dir, cfg))

		loaded, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, MemoryPath, loaded.Database.SQLite.Path)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(ConfigDir(dir), 0755))
		require.NoError(t, os.WriteFile(ConfigFilePath(dir), []byte("database: ["), 0644))

		_, err := Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config file")
	})
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDefault(dir))

	t.Setenv("DRAFT_DB_DRIVER", "postgres")
	t.Setenv("DRAFT_POSTGRES_DSN", "postgres://localhost:5432/app")
	t.Setenv("DRAFT_POSTGRES_MAX_CONNS", "8")
	t.Setenv("DRAFT_LOG_LEVEL", "debug")
	t.Setenv("DRAFT_PUSHGATEWAY_URL", "http://localhost:9091")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost:5432/app", cfg.Database.Postgres.DSN)
	assert.Equal(t, int32(8), cfg.Database.Postgres.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "http://localhost:9091", cfg.Metrics.PushgatewayURL)
}

func TestLoad_EnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDefault(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DRAFT_LOG_FORMAT=json\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DRAFT_LOG_FORMAT") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()

	n, err := LoadEnv(filepath.Join(dir, ".env"), filepath.Join(dir, ".env.local"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("DRAFT_TEST_ONLY=1\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DRAFT_TEST_ONLY") })

	n, err = LoadEnv(filepath.Join(dir, ".env"), filepath.Join(dir, ".env.local"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "1", os.Getenv("DRAFT_TEST_ONLY"))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "unknown database driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.SQLite.Path = "" },
			wantErr: "sqlite.path is required",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = DriverPostgres },
			wantErr: "postgres.dsn is required",
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Database.Driver = DriverPostgres
				c.Database.Postgres.DSN = "postgres://localhost/app"
			},
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "unknown log level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "unknown log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDefault(dir))
	assert.True(t, Exists(dir))

	err := WriteDefault(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
