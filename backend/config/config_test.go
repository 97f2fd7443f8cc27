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
	path := filepath.Join(t.TempDir(), "collabConfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
Running:
  Port: 9000
Store:
  driver: memory
Collab:
  flushDebounce: 750ms
  evictDelay: 30s
Redis:
  addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Running.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Collab.FlushDebounce)
	assert.Equal(t, 30*time.Second, cfg.Collab.EvictDelay)
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, cfg.Redis.Addrs)

	// 未配置的项走默认值
	assert.Equal(t, 3, cfg.Collab.FlushAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Collab.SubmitTimeout)
	assert.Equal(t, "doc-events", cfg.Kafka.Topic)
	assert.Equal(t, 10_000, cfg.Kafka.QueueSize)
	assert.Equal(t, "remote", cfg.Auth.Mode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
Store:
  driver: memory
`)
	t.Setenv("COLLAB_RUNNING_PORT", "7001")
	t.Setenv("COLLAB_COLLAB_FLUSHATTEMPTS", "5")
	t.Setenv("COLLAB_AUTH_MODE", "local")
	t.Setenv("COLLAB_AUTH_JWTSECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Running.Port)
	assert.Equal(t, 5, cfg.Collab.FlushAttempts)
	assert.Equal(t, "local", cfg.Auth.Mode)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"mysql without dsn": "Store:\n  driver: mysql\n",
		"mongo without uri": "Store:\n  driver: mongo\n",
		"unknown driver":    "Store:\n  driver: sqlite\n",
		"local without key": "Store:\n  driver: memory\nAuth:\n  mode: local\n",
		"unknown auth mode": "Store:\n  driver: memory\nAuth:\n  mode: oauth\n",
		"non-positive port": "Store:\n  driver: memory\nRunning:\n  Port: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
