package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
)

// probeTimeout bounds a single HealthCheck call so one stuck module
// cannot stall the sweep.
const probeTimeout = 10 * time.Second

// HealthMonitor probes Running modules on a fixed schedule. A probe
// failure is a failing HealthReport, a panic, or a timeout; after the
// configured number of consecutive failures the module is flagged
// degraded and system.module_degraded is published. One later passing
// probe clears the flag and publishes system.module_recovered. The flag
// never changes the module's state: a degraded module is still Running,
// still subscribed, still serving.
type HealthMonitor struct {
	kernel   *Kernel
	config   HealthConfig
	schedule *cron.Cron

	mu       sync.Mutex
	failures map[string]int
	latest   map[string]HealthReport
	sweeping bool
}

// NewHealthMonitor builds a monitor over the kernel's Running modules.
func NewHealthMonitor(k *Kernel, config HealthConfig) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = 3
	}
	return &HealthMonitor{
		kernel:   k,
		config:   config,
		failures: make(map[string]int),
		latest:   make(map[string]HealthReport),
	}
}

// Start schedules the probe sweep. The first sweep runs after one full
// interval; Boot already established each module's state.
func (m *HealthMonitor) Start(ctx context.Context) error {
	if m.schedule != nil {
		return nil
	}
	m.schedule = cron.New()
	spec := fmt.Sprintf("@every %s", m.config.Interval)
	if _, err := m.schedule.AddFunc(spec, func() { m.Sweep(ctx) }); err != nil {
		m.schedule = nil
		return fmt.Errorf("scheduling health sweep: %w", err)
	}
	m.schedule.Start()
	m.kernel.logger.Debug("Health monitor started", "interval", m.config.Interval)
	return nil
}

// Stop halts the schedule. A sweep in flight finishes.
func (m *HealthMonitor) Stop() {
	if m.schedule == nil {
		return
	}
	sweepCtx := m.schedule.Stop()
	<-sweepCtx.Done()
	m.schedule = nil
}

// Sweep probes every Running module once. Overlapping sweeps collapse:
// if the previous one is still going, this tick is skipped.
func (m *HealthMonitor) Sweep(ctx context.Context) {
	m.mu.Lock()
	if m.sweeping {
		m.mu.Unlock()
		return
	}
	m.sweeping = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sweeping = false
		m.mu.Unlock()
	}()

	for _, name := range m.kernel.Report().Running() {
		m.probe(ctx, name)
	}
}

// Latest returns the most recent report for a module, if any probe has
// run for it.
func (m *HealthMonitor) Latest(name string) (HealthReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.latest[name]
	return report, ok
}

func (m *HealthMonitor) probe(ctx context.Context, name string) {
	instance, ok := m.kernel.runningInstance(name)
	if !ok {
		return
	}

	report := m.check(ctx, name, instance)
	report.Module = name
	report.CheckedAt = time.Now()

	m.mu.Lock()
	m.latest[name] = report
	if report.Status.IsHealthy() {
		m.failures[name] = 0
		m.mu.Unlock()
		if m.kernel.markDegraded(name, false) {
			m.kernel.logger.Info("Module recovered", "module", name)
			m.kernel.publishSystem(ctx, ChannelModuleRecovered, modulePayload{Module: name, State: StateRunning.String()})
		}
		return
	}
	m.failures[name]++
	count := m.failures[name]
	m.mu.Unlock()

	m.kernel.logger.Warn("Health probe failed", "module", name, "consecutive", count, "message", report.Message)
	if count < m.config.UnhealthyThreshold {
		return
	}
	if m.kernel.markDegraded(name, true) {
		m.kernel.logger.Error("Module degraded", "module", name, "consecutive", count)
		m.kernel.publishSystem(ctx, ChannelModuleDegraded, modulePayload{Module: name, State: StateRunning.String(), Reason: report.Message})
		if m.config.Restart.Enabled {
			m.restart(ctx, name)
		}
	}
}

// check runs one HealthCheck with a timeout and panic containment.
func (m *HealthMonitor) check(ctx context.Context, name string, instance Module) HealthReport {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	done := make(chan HealthReport, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Unhealthy(fmt.Sprintf("health check panicked: %v", r))
			}
		}()
		done <- instance.HealthCheck(probeCtx)
	}()

	select {
	case report := <-done:
		return report
	case <-probeCtx.Done():
		return Unhealthy(fmt.Sprintf("health check exceeded %s", probeTimeout))
	}
}

// restart bounces a degraded module with exponential backoff between
// attempts. Attempts are bounded per degradation episode; exhausting
// them leaves the module degraded for the next sweep to see.
func (m *HealthMonitor) restart(ctx context.Context, name string) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.config.Restart.InitialBackoff
	bounded := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), m.config.Restart.MaxAttempts)

	operation := func() error {
		return m.kernel.RestartModule(ctx, name)
	}
	if err := backoff.Retry(operation, bounded); err != nil {
		m.kernel.logger.Error("Module restart attempts exhausted", "module", name, "error", err)
		return
	}
	m.mu.Lock()
	m.failures[name] = 0
	m.mu.Unlock()
}
