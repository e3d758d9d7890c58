package kernel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./modules", cfg.ModuleRoot)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.False(t, cfg.WatchManifests)
	assert.Equal(t, 64, cfg.Bus.BufferSize)
	assert.Equal(t, 8, cfg.Bus.WorkerCount)
	assert.Equal(t, DeliveryBlock, cfg.Bus.DeliveryMode)
	assert.Equal(t, 5*time.Second, cfg.Bus.PublishTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 3, cfg.Health.UnhealthyThreshold)
	assert.False(t, cfg.Health.Restart.Enabled)
	assert.Equal(t, uint64(3), cfg.Health.Restart.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Health.Restart.InitialBackoff)
	assert.Equal(t, "kernel-events.log", cfg.Mirror.Path)
	assert.Empty(t, cfg.Mirror.Type)
	assert.False(t, cfg.Status.Enabled)
	assert.Equal(t, ":8137", cfg.Status.Addr)
}

func TestLoadConfig(t *testing.T) {
	t.Run("file_overrides_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kernel.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
moduleRoot: /opt/modules
shutdownGrace: 3s
bus:
  bufferSize: 128
  deliveryMode: drop
health:
  interval: 5s
  restart:
    enabled: true
mirror:
  type: file
  path: /var/log/kernel-events.log
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "/opt/modules", cfg.ModuleRoot)
		assert.Equal(t, 3*time.Second, cfg.ShutdownGrace)
		assert.Equal(t, 128, cfg.Bus.BufferSize)
		assert.Equal(t, DeliveryDrop, cfg.Bus.DeliveryMode)
		assert.Equal(t, 5*time.Second, cfg.Health.Interval)
		assert.True(t, cfg.Health.Restart.Enabled)
		assert.Equal(t, "file", cfg.Mirror.Type)
		// Untouched fields keep their defaults.
		assert.Equal(t, 8, cfg.Bus.WorkerCount)
		assert.Equal(t, 3, cfg.Health.UnhealthyThreshold)
	})

	t.Run("env_overrides_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kernel.yaml")
		require.NoError(t, os.WriteFile(path, []byte("moduleRoot: /opt/modules\n"), 0o644))

		t.Setenv("KERNEL_MODULE_ROOT", "/env/modules")
		t.Setenv("KERNEL_SHUTDOWN_GRACE", "90s")
		t.Setenv("KERNEL_BUS_WORKER_COUNT", "16")
		t.Setenv("KERNEL_HEALTH_RESTART_ENABLED", "true")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "/env/modules", cfg.ModuleRoot)
		assert.Equal(t, 90*time.Second, cfg.ShutdownGrace)
		assert.Equal(t, 16, cfg.Bus.WorkerCount)
		assert.True(t, cfg.Health.Restart.Enabled)
	})

	t.Run("empty_path_gives_defaults_plus_env", func(t *testing.T) {
		t.Setenv("KERNEL_STATUS_ADDR", ":9999")
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.Status.Addr)
		assert.Equal(t, "./modules", cfg.ModuleRoot)
	})

	t.Run("missing_file_is_an_error", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad_env_value_is_an_error", func(t *testing.T) {
		t.Setenv("KERNEL_SHUTDOWN_GRACE", "not-a-duration")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
}
