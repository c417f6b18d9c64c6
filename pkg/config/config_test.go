package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLOUD_API_KEY", "clave")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.Environment)
	assert.Equal(t, "8000", cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Relay.ReconnectInterval.Std())
	assert.Equal(t, 10, cfg.Relay.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.Relay.HeartbeatInterval.Std())
	assert.Equal(t, 5*time.Second, cfg.Relay.AckTimeout.Std())
	assert.Equal(t, 1, cfg.LocalSectorID)
	assert.Equal(t, "admin", cfg.AdminUser)
}

func TestLoadRequiresCloudKeyInLocalMode(t *testing.T) {
	t.Setenv("CLOUD_API_KEY", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: cloud
http_port: "9001"
database:
  driver: postgres
  postgres:
    host: db.internal
    user: bivalvia
    dbname: bivalvia
cloud:
  api_key: secreto
relay:
  reconnect_interval: 2s
  max_reconnect_attempts: 4
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvCloud, cfg.Environment)
	assert.Equal(t, "9001", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Relay.ReconnectInterval.Std())
	assert.Equal(t, 4, cfg.Relay.MaxReconnectAttempts)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: local
cloud:
  api_key: del-archivo
  api_url: http://archivo.example
`), 0o600))

	t.Setenv("CLOUD_API_KEY", "del-entorno")
	t.Setenv("PORT", "9999")
	t.Setenv("RECONNECT_INTERVAL_S", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "del-entorno", cfg.Cloud.APIKey)
	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, 7*time.Second, cfg.Relay.ReconnectInterval.Std())
}

func TestValidateRejectsBadDriver(t *testing.T) {
	t.Setenv("CLOUD_API_KEY", "clave")
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Driver: "postgres",
		Postgres: PostgresConfig{
			Host: "db", Port: 5432, User: "u", Password: "p",
			DBName: "bivalvia", SSLMode: "disable", TimeZone: "UTC",
		},
	}}
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=bivalvia sslmode=disable TimeZone=UTC",
		cfg.GetDSN())
}

func TestWebSocketURLDerivation(t *testing.T) {
	cases := []struct {
		name string
		cfg  CloudConfig
		want string
	}{
		{"from http", CloudConfig{APIURL: "http://cloud.example:8000"}, "ws://cloud.example:8000/ws/sensores/"},
		{"from https", CloudConfig{APIURL: "https://cloud.example"}, "wss://cloud.example/ws/sensores/"},
		{"trailing slash", CloudConfig{APIURL: "http://cloud.example/"}, "ws://cloud.example/ws/sensores/"},
		{"explicit override", CloudConfig{APIURL: "http://x", WSURL: "wss://otro/ws/sensores/"}, "wss://otro/ws/sensores/"},
		{"override with custom path", CloudConfig{APIURL: "http://x", WSURL: "wss://otro/stream"}, "wss://otro/stream"},
		{"override without api_url", CloudConfig{WSURL: "ws://otro/ingest"}, "ws://otro/ingest"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{Cloud: tc.cfg}
			assert.Equal(t, tc.want, c.WebSocketURL())
		})
	}
}
