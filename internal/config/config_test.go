package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"KIOSK_STORE", "KIOSK_DB", "POSTGRES_DSN", "POSTGRES_MAX_CONNS",
	"HTTP_HOST", "HTTP_PORT", "PUBLIC_BASE_URL",
	"SYNC_INTERVAL", "SYNC_BURST", "SYNC_RETRY_ATTEMPTS", "SYNC_RETRY_BACKOFF",
	"SHUTDOWN_TIMEOUT", "QRIS_TIMEOUT", "PROMPT_TIMEOUT",
	"ADMIN_CODE_FILE", "DEFAULT_ADMIN_CODE",
	"KAFKA_BROKERS", "KAFKA_SALES_TOPIC", "KAFKA_ORDER_TOPIC", "KAFKA_CONSUMER_GROUP",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "kopikiosk.db", cfg.Store.SQLitePath)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Address())
	assert.Equal(t, 300*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 32, cfg.Sync.Burst)
	assert.Equal(t, 3, cfg.Sync.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.RetryBackoff)
	assert.Equal(t, 300*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Shutdown)
	assert.Equal(t, 60*time.Second, cfg.Prompt)
	assert.Equal(t, "credentials/admin_code.txt", cfg.Admin.CodeFile)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kiosk.env")
	require.NoError(t, os.WriteFile(path, []byte(`KIOSK_STORE=memory
HTTP_PORT=8080
SYNC_INTERVAL=90
QRIS_TIMEOUT=2m
KAFKA_BROKERS= broker-1:9092 , broker-2:9092,
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Payment.Timeout)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kiosk.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=8080\n"), 0o600))
	t.Setenv("HTTP_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"KIOSK_STORE": "mongo"}},
		{name: "postgres without dsn", env: map[string]string{"KIOSK_STORE": "postgres"}},
		{name: "bad port", env: map[string]string{"HTTP_PORT": "0"}},
		{name: "zero retries", env: map[string]string{"SYNC_RETRY_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
