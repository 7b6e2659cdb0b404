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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  url: postgres://localhost/cc
limits:
  max_droplets: 3
  allowed_sizes: [s-1vcpu-1gb]
  auto_destroy_days: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Limits.MaxDroplets)
	assert.Equal(t, []string{"s-1vcpu-1gb"}, cfg.Limits.AllowedSizes)
	assert.Equal(t, 2, cfg.Limits.AutoDestroyDays)

	// Unset keys fall back to defaults.
	assert.Equal(t, "https://api.digitalocean.com/", cfg.DigitalOcean.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.DigitalOcean.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.DigitalOcean.CatalogTTL)
	assert.Equal(t, "@hourly", cfg.Sweeper.Schedule)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: from-file\n")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SWEEPER_TRIGGER_TOKEN", "cron-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "cron-token", cfg.Sweeper.TriggerToken)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
