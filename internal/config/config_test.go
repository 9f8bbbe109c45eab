package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvPort, "")
	t.Setenv(EnvRelayURL, "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 3000, cfg.RelayPort)
	assert.Equal(t, "http://localhost:3000", cfg.RelayURL)
	assert.Equal(t, 2*time.Second, cfg.NotificationTTL())
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	t.Setenv(EnvPort, "")
	t.Setenv(EnvRelayURL, "")
	path := writeFile(t, t.TempDir(), "config.toml", `
SavePath = "/tmp/pics"
RelayPort = 8088
RelayTimeoutSec = 5
ScannerExtensions = ["png", "jpg"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pics", cfg.SavePath)
	assert.Equal(t, 8088, cfg.RelayPort)
	assert.Equal(t, 5*time.Second, cfg.RelayTimeout())
	assert.Equal(t, []string{"png", "jpg"}, cfg.ScannerExtensions)
	assert.Equal(t, "clipnest.db", cfg.DatabasePath, "unset keys keep defaults")
	assert.Equal(t, ":8088", cfg.RelayAddr())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "4321")
	t.Setenv(EnvRelayURL, "http://relay.test:9000")
	path := writeFile(t, t.TempDir(), "config.toml", "RelayPort = 8088\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4321, cfg.RelayPort)
	assert.Equal(t, "http://relay.test:9000", cfg.RelayURL)
}

func TestLoadConfigBadPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidToml(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "SavePath = [unterminated")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigValidates(t *testing.T) {
	t.Setenv(EnvPort, "")
	path := writeFile(t, t.TempDir(), "config.toml", "RelayTimeoutSec = 0\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RelayTimeoutSec")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "CLIPNEST_TEST_ONLY=from-file\n")
	t.Setenv("CLIPNEST_TEST_ONLY", "")
	require.NoError(t, os.Unsetenv("CLIPNEST_TEST_ONLY"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("CLIPNEST_TEST_ONLY"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
