package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("file values with env override", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
environment: dev
dev_mode_bypass: true
db:
  host: db.internal
  user: workflows
redis:
  addr: localhost:6379
directory:
  url: "https://directory.internal/v1/ "
auth:
  issuer: "https://login.example.com/oauth2/default/"
tls:
  hostnames: [localhost, 127.0.0.1]
`), 0o600))
		t.Setenv("WORKFLOW_DB_PASSWORD", "s3cret")
		t.Setenv("WORKFLOW_LOG_LEVEL", "debug")
		t.Setenv("WORKFLOW_EVENTS_REDELIVER_INTERVAL", "15s")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.True(t, cfg.IsDev())
		assert.True(t, cfg.DevModeBypass)
		assert.True(t, cfg.UsePostgres())
		assert.Equal(t, "s3cret", cfg.DB.Password)
		assert.Equal(t, 5432, cfg.DB.Port)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "workflow-events", cfg.Redis.Stream)
		assert.Equal(t, 15*time.Second, cfg.Events.RedeliverInterval)
		assert.Equal(t, "https://directory.internal/v1", cfg.Directory.URL)
		assert.Equal(t, "https://login.example.com/oauth2/default", cfg.Auth.Issuer)
		assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.TLS.Hostnames)
		assert.Equal(t, "host=db.internal port=5432 user=workflows password=s3cret dbname=workflows sslmode=disable", cfg.DSN())
	})

	t.Run("defaults without a config file", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		t.Chdir(t.TempDir())

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.False(t, cfg.IsDev())
		assert.False(t, cfg.UsePostgres())
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.True(t, cfg.Metrics.Enable)
		assert.Equal(t, time.Minute, cfg.Events.RedeliverInterval)
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)

		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
