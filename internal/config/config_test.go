package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
connection:
  database: /tmp/test.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Connection.Database)
	assert.Equal(t, 5*time.Second, cfg.Connection.Timeout)
	assert.Equal(t, 128, cfg.Connection.CachedStatements)
	assert.Equal(t, 1, cfg.Pool.MinSize)
	assert.Equal(t, 10, cfg.Pool.MaxSize)
	assert.Equal(t, 600*time.Second, cfg.Pool.MaxIdleTime)
	assert.Equal(t, 30*time.Second, cfg.Pool.ConnectionTimeout)
	assert.Equal(t, time.Duration(0), cfg.Pool.PoolRecycle)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
connection:
  database: /tmp/test.db
  isolation_level: IMMEDIATE
pool:
  min_size: 2
  max_size: 5
  max_queries: 1000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "IMMEDIATE", cfg.Connection.IsolationLevel)
	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, 5, cfg.Pool.MaxSize)
	assert.Equal(t, 1000, cfg.Pool.MaxQueries)
}

func TestLoadHonorsExplicitMinSizeZero(t *testing.T) {
	// spec.md §8: min_size=0 permits cold-start on first acquire. It
	// must survive Load's default-filling, not be treated as "unset".
	path := writeConfig(t, `
connection:
  database: /tmp/test.db
pool:
  min_size: 0
  max_size: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Pool.MinSize)
	assert.Equal(t, 5, cfg.Pool.MaxSize)
}

func TestValidateRejectsMissingDatabase(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "connection.database is required")
}

func TestValidateRejectsMaxBelowMin(t *testing.T) {
	cfg := &Config{
		Connection: ConnectionConfig{Database: "/tmp/test.db"},
		Pool:       PoolConfig{MinSize: 5, MaxSize: 2},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "must be >= pool.min_size")
}

func TestValidateRejectsUnknownIsolationLevel(t *testing.T) {
	cfg := &Config{
		Connection: ConnectionConfig{Database: "/tmp/test.db", IsolationLevel: "SERIALIZABLE"},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "isolation_level")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSNHonorsURIFlag(t *testing.T) {
	cfg := &Config{Connection: ConnectionConfig{Database: "file:/tmp/test.db?cache=shared", URI: true}}
	assert.Equal(t, "file:/tmp/test.db?cache=shared", cfg.DSN())
}

func TestDSNAddsFilePrefixForBareURIDatabase(t *testing.T) {
	cfg := &Config{Connection: ConnectionConfig{Database: "/tmp/test.db?mode=ro", URI: true}}
	assert.Equal(t, "file:/tmp/test.db?mode=ro", cfg.DSN())
}

func TestDSNPassesThroughPlainPathWithoutURIFlag(t *testing.T) {
	cfg := &Config{Connection: ConnectionConfig{Database: "/tmp/test.db"}}
	assert.Equal(t, "/tmp/test.db", cfg.DSN())
}

func TestLoadParsesDurationsAsFloatSeconds(t *testing.T) {
	path := writeConfig(t, `
connection:
  database: /tmp/test.db
  timeout: 2.5
pool:
  max_idle_time: 120
  connection_timeout: 7.25
  pool_recycle: 3600
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, cfg.Connection.Timeout)
	assert.Equal(t, 120*time.Second, cfg.Pool.MaxIdleTime)
	assert.Equal(t, 7250*time.Millisecond, cfg.Pool.ConnectionTimeout)
	assert.Equal(t, 3600*time.Second, cfg.Pool.PoolRecycle)
}
