package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootFlaky(t *testing.T) (*Kernel, *stubModule) {
	t.Helper()
	k := newTestKernel(t)
	flaky := newStub("flaky", nil)
	require.NoError(t, k.RegisterFactory("flaky", stubFactory(flaky)))

	ctx := context.Background()
	require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{manifestWithDeps("flaky", PriorityNormal)}))
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	return k, flaky
}

func TestHealthMonitorDegradation(t *testing.T) {
	k, flaky := bootFlaky(t)
	ctx := context.Background()

	monitor := NewHealthMonitor(k, HealthConfig{Interval: time.Hour, UnhealthyThreshold: 2})

	type signal struct{ channel, module string }
	var mu sync.Mutex
	var signals []signal
	_, err := k.Bus().Subscribe(ctx, "system.*", func(ctx context.Context, e Event) error {
		if payload, ok := e.Payload.(modulePayload); ok {
			mu.Lock()
			signals = append(signals, signal{channel: e.Channel, module: payload.Module})
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	// One failing probe is below the threshold.
	flaky.health = Unhealthy("backing store unreachable")
	monitor.Sweep(ctx)
	record, _ := k.Record("flaky")
	assert.False(t, record.Degraded())
	assert.Equal(t, StateRunning, record.State())

	// The second consecutive failure crosses it.
	monitor.Sweep(ctx)
	assert.True(t, record.Degraded())
	assert.Equal(t, StateRunning, record.State(), "degraded module stays Running")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range signals {
			if s.channel == ChannelModuleDegraded && s.module == "flaky" {
				return true
			}
		}
		return false
	}, "degraded event")

	// One passing probe clears the flag.
	flaky.health = Healthy()
	monitor.Sweep(ctx)
	assert.False(t, record.Degraded())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range signals {
			if s.channel == ChannelModuleRecovered && s.module == "flaky" {
				return true
			}
		}
		return false
	}, "recovered event")
}

func TestHealthMonitorFailureCountResets(t *testing.T) {
	k, flaky := bootFlaky(t)
	ctx := context.Background()
	monitor := NewHealthMonitor(k, HealthConfig{Interval: time.Hour, UnhealthyThreshold: 3})

	flaky.health = Unhealthy("hiccup")
	monitor.Sweep(ctx)
	monitor.Sweep(ctx)

	// A passing probe resets the consecutive count; two more failures do
	// not reach the threshold of three.
	flaky.health = Healthy()
	monitor.Sweep(ctx)
	flaky.health = Unhealthy("hiccup again")
	monitor.Sweep(ctx)
	monitor.Sweep(ctx)

	record, _ := k.Record("flaky")
	assert.False(t, record.Degraded())
}

func TestHealthMonitorLatest(t *testing.T) {
	k, flaky := bootFlaky(t)
	ctx := context.Background()
	monitor := NewHealthMonitor(k, HealthConfig{Interval: time.Hour, UnhealthyThreshold: 3})

	_, ok := monitor.Latest("flaky")
	assert.False(t, ok, "no report before first sweep")

	flaky.health = Unhealthy("details here")
	monitor.Sweep(ctx)

	report, ok := monitor.Latest("flaky")
	require.True(t, ok)
	assert.Equal(t, "flaky", report.Module)
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, "details here", report.Message)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestHealthMonitorRestartPolicy(t *testing.T) {
	k, flaky := bootFlaky(t)
	ctx := context.Background()
	monitor := NewHealthMonitor(k, HealthConfig{
		Interval:           time.Hour,
		UnhealthyThreshold: 1,
		Restart: RestartConfig{
			Enabled:        true,
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
		},
	})

	flaky.health = Unhealthy("stuck")
	monitor.Sweep(ctx)

	// The policy bounced the module: Shutdown then a fresh Init.
	assert.Equal(t, int64(1), flaky.shutdownCalls.Load())
	assert.Equal(t, int64(2), flaky.initCalls.Load())
	record, _ := k.Record("flaky")
	assert.Equal(t, StateRunning, record.State())
	assert.False(t, record.Degraded(), "restart clears the degraded flag")
}

func TestHealthMonitorSkipsNonRunningModules(t *testing.T) {
	k := newTestKernel(t)
	broken := newStub("broken", nil)
	broken.initErr = assert.AnError
	require.NoError(t, k.RegisterFactory("broken", stubFactory(broken)))

	ctx := context.Background()
	require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{manifestWithDeps("broken", PriorityNormal)}))
	defer k.Shutdown(ctx)

	monitor := NewHealthMonitor(k, HealthConfig{Interval: time.Hour, UnhealthyThreshold: 1})
	monitor.Sweep(ctx)

	_, ok := monitor.Latest("broken")
	assert.False(t, ok, "failed module must not be probed")
}

func TestHealthMonitorStartStop(t *testing.T) {
	k, flaky := bootFlaky(t)
	ctx := context.Background()

	flaky.health = Unhealthy("always failing")
	monitor := NewHealthMonitor(k, HealthConfig{Interval: 20 * time.Millisecond, UnhealthyThreshold: 1})
	require.NoError(t, monitor.Start(ctx))
	// Idempotent.
	require.NoError(t, monitor.Start(ctx))

	record, _ := k.Record("flaky")
	waitFor(t, func() bool { return record.Degraded() }, "scheduled sweep to flag the module")

	monitor.Stop()
	monitor.Stop()
}
