package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

const sampleConfig = `
server:
  port: 9000
scheduler:
  max_queue_size: 4
  max_concurrent_dispatch: 2
  queue_ttl: 2s
providers:
  - id: primary
    url: https://tsa.example.com/tsr
    priority: 1
    timeout: 5s
    hash_algorithms: ["2.16.840.1.101.3.4.2.1"]
  - id: backup
    url: https://backup.example.com/tsr
    priority: 2
identity:
  tenants:
    - id: acme
      api_key_sha256: "0000000000000000000000000000000000000000000000000000000000000000"
      permissions: ["timestamp:sign"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Run("should merge file values over defaults", func(t *testing.T) {
		dir := writeConfig(t, sampleConfig)

		cfg, v, err := LoadConfig(logger.NewNoopLogger(), dir)
		require.NoError(t, err)
		require.NotNil(t, v)

		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 4, cfg.Scheduler.MaxQueueSize)
		assert.Equal(t, 2, cfg.Scheduler.MaxConcurrentDispatch)
		assert.Equal(t, 2*time.Second, cfg.Scheduler.QueueTTL)
		assert.Equal(t, 3, cfg.Engine.MaxAttempts)
		require.Len(t, cfg.Providers, 2)
		assert.Equal(t, "primary", cfg.Providers[0].ID)
		assert.Equal(t, 5*time.Second, cfg.Providers[0].Timeout)
		require.Len(t, cfg.Identity.Tenants, 1)
		assert.Equal(t, "acme", cfg.Identity.Tenants[0].ID)
	})

	t.Run("should let environment variables override the file", func(t *testing.T) {
		dir := writeConfig(t, sampleConfig)
		t.Setenv("TSA_BROKER_SCHEDULER_MAX_QUEUE_SIZE", "42")

		cfg, _, err := LoadConfig(logger.NewNoopLogger(), dir)
		require.NoError(t, err)
		assert.Equal(t, 42, cfg.Scheduler.MaxQueueSize)
	})

	t.Run("should reject duplicate provider ids", func(t *testing.T) {
		dir := writeConfig(t, `
providers:
  - id: dup
    url: https://a.example.com
  - id: dup
    url: https://b.example.com
`)
		_, _, err := LoadConfig(logger.NewNoopLogger(), dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate provider id")
	})

	t.Run("should reject non-OID hash algorithms", func(t *testing.T) {
		dir := writeConfig(t, `
providers:
  - id: p
    url: https://a.example.com
    hash_algorithms: ["sha256"]
`)
		_, _, err := LoadConfig(logger.NewNoopLogger(), dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a dotted OID")
	})
}
