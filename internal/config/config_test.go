package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, 100, cfg.API.DefaultPageSize)
	assert.Equal(t, 1000, cfg.API.MaxPageSize)
	assert.Equal(t, 50, cfg.API.BatchThreshold)
	assert.Equal(t, 500, cfg.API.MaxChunkSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
logging:
  level: debug
  format: console
collections:
  - name: users
    primary_key: [id]
    filterable: [name, age]
    soft_delete: true
    soft_delete_column: deleted_at
    relations:
      - name: posts
        target: posts
        foreign_key: author_id
        has_many: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Collections, 1)

	col := cfg.Collections[0]
	assert.Equal(t, "users", col.Name)
	assert.Equal(t, []string{"id"}, col.PrimaryKey)
	assert.True(t, col.SoftDelete)
	require.Len(t, col.Relations, 1)
	assert.Equal(t, "posts", col.Relations[0].Target)
	assert.True(t, col.Relations[0].HasMany)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CRUDKIT_SERVER_PORT", "7777")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"replica without writer", func(c *Config) { c.Database.ReplicaURL = "postgres://r" }, "replica_url"},
		{"zero page size", func(c *Config) { c.API.DefaultPageSize = 0 }, "default_page_size"},
		{"max below default", func(c *Config) { c.API.MaxPageSize = 10 }, "max_page_size"},
		{"zero threshold", func(c *Config) { c.API.BatchThreshold = 0 }, "batch_threshold"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeDefault(t *testing.T) {
	assert.Equal(t, 25, MergeDefault(25, 50, 100))
	assert.Equal(t, 50, MergeDefault(0, 50, 100))
	assert.Equal(t, 100, MergeDefault(0, 0, 100))
}
