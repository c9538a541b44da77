package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("DefaultsOnly", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "3000", cfg.Server.Port)
		assert.Equal(t, "perception_db", cfg.Database.MySQL.Database)
		assert.Equal(t, 300*time.Millisecond, cfg.Live.SliderAdmitInterval)
		assert.Equal(t, 2*time.Minute, cfg.Live.StaleAfter)
		assert.Equal(t, 50, cfg.Activity.HistorySize)
		assert.True(t, cfg.Database.Redis.Enabled)
	})

	t.Run("YAMLOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		yml := `
server:
  port: "8080"
live:
  slider_admit_interval: 500ms
  stale_after: 5m
`
		require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, 500*time.Millisecond, cfg.Live.SliderAdmitInterval)
		assert.Equal(t, 5*time.Minute, cfg.Live.StaleAfter)
		// Untouched values keep their defaults
		assert.Equal(t, "localhost", cfg.Database.MySQL.Host)
	})

	t.Run("EnvOverridesYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"8080\"\n"), 0o600))

		t.Setenv("SERVER_PORT", "9090")
		t.Setenv("LIVE_STALE_AFTER", "10m")
		t.Setenv("REDIS_ENABLED", "false")
		t.Setenv("ACTIVITY_HISTORY_SIZE", "100")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, 10*time.Minute, cfg.Live.StaleAfter)
		assert.False(t, cfg.Database.Redis.Enabled)
		assert.Equal(t, 100, cfg.Activity.HistorySize)
	})

	t.Run("ZeroPresenceRefreshRejected", func(t *testing.T) {
		// 0s parses as a duration but would stall the refresh ticker
		t.Setenv("LIVE_PRESENCE_REFRESH_INTERVAL", "0s")

		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("InvalidDurationEnv", func(t *testing.T) {
		t.Setenv("LIVE_STALE_AFTER", "not-a-duration")

		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load("/nonexistent/config.yml")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return getDefaultConfig() }

	t.Run("DefaultsAreValid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("NonNumericPort", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = "http"
		assert.Error(t, cfg.Validate())
	})

	t.Run("MissingDatabaseName", func(t *testing.T) {
		cfg := valid()
		cfg.Database.MySQL.Database = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("BroadcastIntervalShorterThanAdmit", func(t *testing.T) {
		cfg := valid()
		cfg.Live.ActivityBroadcastInterval = 100 * time.Millisecond
		assert.Error(t, cfg.Validate())
	})

	t.Run("NonPositiveStaleThreshold", func(t *testing.T) {
		cfg := valid()
		cfg.Live.StaleAfter = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("NonPositivePresenceRefreshInterval", func(t *testing.T) {
		cfg := valid()
		cfg.Live.PresenceRefreshInterval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("NonPositiveStateBroadcastInterval", func(t *testing.T) {
		cfg := valid()
		cfg.Live.StateBroadcastInterval = -time.Second
		assert.Error(t, cfg.Validate())
	})
}

func TestAddressHelpers(t *testing.T) {
	cfg := getDefaultConfig()

	assert.Equal(t, "root:@tcp(localhost:3306)/perception_db?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Database.MySQL.DSN())
	assert.Equal(t, "localhost:6379", cfg.Database.Redis.Addr())
	assert.Equal(t, ":3000", cfg.Server.ListenAddr())
}
