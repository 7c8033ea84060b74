package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExpandsEnvironmentAndAppliesDefaults(t *testing.T) {
	t.Setenv("DUEL_AUTH_COOKIE", "secret-cookie")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
matchmaking:
  enabled: true
  max_wait: 30s
  gamemodes:
    NM: "NM 60s"
game_service:
  auth_cookie: ${DUEL_AUTH_COOKIE}
storage:
  backend: memory
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret-cookie", cfg.GameService.AuthCookie)
	assert.Equal(t, StorageBackendMemory, cfg.Storage.Backend)

	assert.True(t, cfg.Matchmaking.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Matchmaking.MaxWait)
	assert.Equal(t, 100*time.Second, cfg.Matchmaking.WaitScale)
	assert.Equal(t, 5*time.Second, cfg.Matchmaking.MinWait)
	assert.Equal(t, 30*time.Second, cfg.Matchmaking.FetchTimeout)
	assert.Equal(t, "NM 60s", cfg.Matchmaking.Gamemodes["NM"])
	assert.Equal(t, "NMPZ 15s", cfg.Matchmaking.Gamemodes["NMPZ"])

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "duel-reports", cfg.Kafka.ReportsTopic)
	assert.Equal(t, 24*time.Hour, cfg.FlagSync.Interval)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Matchmaking.Enabled)
	assert.Equal(t, StorageBackendDatabase, cfg.Storage.Backend)
	assert.Equal(t, "postgres://:@localhost:5432/?sslmode=disable", cfg.Postgres.ConnectionString())
}
