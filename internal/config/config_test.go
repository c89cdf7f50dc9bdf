package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GEOINGEST_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://geo@localhost/gis")
	t.Setenv("LOAD_TIMEOUT", "90s")
	t.Setenv("MAX_CONCURRENT_LOADS", "2")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.LoadTimeout)
	assert.EqualValues(t, 2, cfg.MaxConcurrentLoads)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "geom", cfg.GeometryColumn)
	assert.Equal(t, "5050", cfg.Port)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("GEOINGEST_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("GEOINGEST_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("MAX_UPLOAD_BYTES", "lots")
	t.Setenv("LOAD_TIMEOUT", "soon")
	_, err := Load()
	require.ErrorContains(t, err, "MAX_UPLOAD_BYTES")
	require.ErrorContains(t, err, "LOAD_TIMEOUT")
}

func TestYAMLOverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geoingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://file@db/gis
scratch_dir: /var/tmp/geo
load_timeout: 5m
cors_allowed_origins:
  - https://maps.example
`), 0o600))
	t.Setenv("GEOINGEST_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://env@db/gis")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@db/gis", cfg.DatabaseURL)
	assert.Equal(t, "/var/tmp/geo", cfg.ScratchDir)
	assert.Equal(t, 5*time.Minute, cfg.LoadTimeout)
	assert.Equal(t, []string{"https://maps.example"}, cfg.CORSAllowedOrigins)
}

func TestYAMLOverlayRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geoingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("databse_url: typo\n"), 0o600))
	t.Setenv("GEOINGEST_CONFIG", path)
	_, err := Load()
	require.Error(t, err)
}

func TestValidateSweepAge(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseURL = "postgres://x"
	cfg.SweepMaxAge = time.Minute
	require.ErrorContains(t, cfg.Validate(), "SWEEP_MAX_AGE")
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"} {
		c := &Config{LogLevel: in}
		assert.Equal(t, want, c.SlogLevel().String(), in)
	}
}

func TestExtractCapCoversUpload(t *testing.T) {
	t.Setenv("GEOINGEST_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("MAX_EXTRACT_BYTES", "1024")
	_, err := Load()
	require.ErrorContains(t, err, "MAX_EXTRACT_BYTES")

	t.Setenv("MAX_EXTRACT_BYTES", "8388608")
	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 8<<20, cfg.MaxExtractBytes)
}
