package app

import (
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBootConfigDefaults(t *testing.T) {
	envVars := []string{
		"GATEWAY_LISTEN_ADDR", "GATEWAY_LOG_LEVEL", "GATEWAY_CONFIG_PATH",
		"GATEWAY_VAULT_ENABLED", "GATEWAY_RATE_LIMIT_RPS", "GATEWAY_RATE_LIMIT_BURST",
	}
	for _, key := range envVars {
		_ = os.Unsetenv(key)
	}

	cfg, err := LoadBootConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.VaultEnabled)
	require.Equal(t, 60, cfg.RateLimitRPS)
	require.Equal(t, 120, cfg.RateLimitBurst)
}

func TestLoadBootConfigRejectsInvalidRateLimit(t *testing.T) {
	t.Setenv("GATEWAY_RATE_LIMIT_RPS", "0")
	_, err := LoadBootConfig()
	require.Error(t, err)
}

func TestNewServerBuildsARoutableHandler(t *testing.T) {
	dbFile := t.TempDir() + "/gateway.sqlite"
	t.Setenv("GATEWAY_DB_DSN", "file:"+dbFile)
	t.Setenv("GATEWAY_VAULT_ENABLED", "false")
	t.Setenv("GATEWAY_CONFIG_PATH", "")

	boot, err := LoadBootConfig()
	require.NoError(t, err)

	srv, err := NewServer(boot)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}
