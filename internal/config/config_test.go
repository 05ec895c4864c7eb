package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "stroyparser.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "https://www.rusprofile.ru", cfg.Rusprofile.BaseURL)
	assert.Equal(t, 128, cfg.Rusprofile.SessionTTLHours)
	assert.Equal(t, 128*time.Hour, cfg.Rusprofile.SessionTTL())
	assert.InDelta(t, 1.0, cfg.Rusprofile.RatePerSec, 0.001)
	assert.Equal(t, 120, cfg.Finder.TimeoutSecs)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, 50, cfg.Pipeline.MaxResults)
	assert.True(t, cfg.Pipeline.Enrich)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/stroyparser
rusprofile:
  email: parser@example.com
  session_ttl_hours: 24
pipeline:
  concurrency: 8
  enrich: false
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/stroyparser", cfg.Store.DatabaseURL)
	assert.Equal(t, "parser@example.com", cfg.Rusprofile.Email)
	assert.Equal(t, 24*time.Hour, cfg.Rusprofile.SessionTTL())
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.False(t, cfg.Pipeline.Enrich)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STROYPARSER_STORE_DRIVER", "postgres")
	t.Setenv("STROYPARSER_RUSPROFILE_PASSWORD", "hunter2")
	t.Setenv("STROYPARSER_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "hunter2", cfg.Rusprofile.Password)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
