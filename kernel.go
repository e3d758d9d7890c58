package kernel

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Kernel is the module lifecycle manager. It owns the module records and
// the service registry; there are no package-level registries, so all
// state is released when the kernel is discarded. The kernel's own lock
// covers the containers (factories, records, services, order lists) while
// each ModuleRecord guards its own lifecycle fields.
type Kernel struct {
	config *KernelConfig
	logger Logger
	bus    *Bus

	mu        sync.RWMutex
	factories map[string]ModuleFactory
	records   map[string]*ModuleRecord
	services  map[string]string // service name -> providing module
	loadOrder []string          // resolved order of loadable modules
	started   []string          // modules that reached Running, in achieved order

	discoveryErrs []error
	booted        bool
	stopped       bool
	bootedAt      time.Time

	monitor *HealthMonitor
	watcher *ManifestWatcher
	status  *StatusServer
}

// New creates a kernel from its configuration. A nil config gets defaults;
// a nil logger gets a slog-backed one.
func New(config *KernelConfig, logger Logger) *Kernel {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = NewSlogLogger(nil)
	}
	return &Kernel{
		config:    config,
		logger:    logger,
		bus:       NewBus(config.Bus, logger),
		factories: make(map[string]ModuleFactory),
		records:   make(map[string]*ModuleRecord),
		services:  make(map[string]string),
	}
}

// Bus exposes the kernel's event bus, mainly for embedding applications
// and tests. Modules use Runtime.Publish instead.
func (k *Kernel) Bus() *Bus { return k.bus }

// Logger returns the kernel's logger.
func (k *Kernel) Logger() Logger { return k.logger }

// Config returns the kernel's configuration.
func (k *Kernel) Config() *KernelConfig { return k.config }

// RegisterFactory binds a module name to the factory that constructs its
// instance. Must be called before Boot; names are unique.
func (k *Kernel) RegisterFactory(name string, factory ModuleFactory) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.booted {
		return ErrKernelAlreadyBooted
	}
	if _, exists := k.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryAlreadyRegistered, name)
	}
	k.factories[name] = factory
	return nil
}

// Boot discovers manifests under the configured module root and brings the
// module set up. See BootManifests for the semantics.
func (k *Kernel) Boot(ctx context.Context) error {
	manifests, errs := Discover(k.config.ModuleRoot)
	k.mu.Lock()
	k.discoveryErrs = errs
	k.mu.Unlock()
	for _, err := range errs {
		k.logger.Warn("Manifest rejected during discovery", "error", err)
	}
	return k.BootManifests(ctx, manifests)
}

// BootManifests resolves the dependency graph of the given manifests and
// loads modules in order. Failures stay local: a module whose factory or
// Init fails is marked Failed and its transitive dependents Skipped, while
// independent modules keep booting. Cycle members and modules with missing
// dependencies fail the same way. The only errors returned are kernel-wide
// ones (bus or mirror startup, double boot); per-module outcomes are read
// from Report.
func (k *Kernel) BootManifests(ctx context.Context, manifests []*ModuleManifest) error {
	k.mu.Lock()
	if k.booted {
		k.mu.Unlock()
		return ErrKernelAlreadyBooted
	}
	k.booted = true
	k.mu.Unlock()

	if err := k.bus.Start(ctx); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	if err := k.attachMirror(ctx); err != nil {
		return err
	}

	k.mu.Lock()
	for _, m := range manifests {
		k.records[m.Name] = &ModuleRecord{manifest: m, state: StateDiscovered, enteredAt: time.Now()}
	}
	k.mu.Unlock()

	res := ResolvePartial(manifests)
	k.mu.Lock()
	k.loadOrder = res.Order
	k.mu.Unlock()
	if res.Cycle != nil {
		k.logger.Error("Dependency cycle detected", "members", res.Cycle.Members)
	}
	if res.Missing != nil {
		k.logger.Error("Missing dependencies detected", "error", res.Missing.Error())
	}
	k.applyExclusions(ctx, res)
	k.logger.Debug("Resolved module load order", "order", res.Order)

	for _, name := range res.Order {
		k.loadModule(ctx, name)
	}

	k.mu.Lock()
	k.bootedAt = time.Now()
	k.mu.Unlock()

	report := k.Report()
	k.publishSystem(ctx, ChannelKernelBooted, report)
	k.logger.Info("Kernel booted",
		"running", len(report.Running()),
		"failed", len(report.Failed()),
		"skipped", len(report.Skipped()))
	return nil
}

// record returns the record for name.
func (k *Kernel) record(name string) *ModuleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.records[name]
}

// applyExclusions marks resolver-excluded modules Failed or Skipped before
// any loading starts.
func (k *Kernel) applyExclusions(ctx context.Context, res *Resolution) {
	names := make([]string, 0, len(res.Excluded))
	for name := range res.Excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		record := k.record(name)
		if record == nil {
			continue
		}
		excl := res.Excluded[name]
		switch excl.Kind {
		case ExcludedCycle, ExcludedMissingDependency:
			record.fail(excl.Err)
			k.logger.Error("Module excluded from boot", "module", name, "error", excl.Err)
			k.publishSystem(ctx, ChannelModuleFailed, modulePayload{Module: name, State: StateFailed.String(), Reason: excl.Err.Error()})
		case ExcludedDependency:
			record.skip(excl.Via)
			k.logger.Warn("Module skipped", "module", name, "dependency", excl.Via)
			k.publishSystem(ctx, ChannelModuleSkipped, modulePayload{Module: name, State: StateSkipped.String(), Reason: "dependency " + excl.Via + " failed"})
		}
	}
}

// loadModule drives one module from Discovered to Running, or to
// Failed/Skipped when something goes wrong along the way.
func (k *Kernel) loadModule(ctx context.Context, name string) {
	record := k.record(name)

	// The resolver guarantees dependencies appear earlier in the order, so
	// a dependency that is neither Running nor accounted-for as failed or
	// skipped is a resolver bug, not a runtime condition.
	for _, dep := range record.manifest.Dependencies {
		switch k.record(dep).State() {
		case StateRunning:
			// satisfied
		case StateFailed, StateSkipped:
			record.skip(dep)
			k.logger.Warn("Module skipped", "module", name, "dependency", dep)
			k.publishSystem(ctx, ChannelModuleSkipped, modulePayload{Module: name, State: StateSkipped.String(), Reason: "dependency " + dep + " failed"})
			return
		default:
			panic(fmt.Sprintf("resolver invariant violated: dependency %q of %q is %s at load time",
				dep, name, k.record(dep).State()))
		}
	}

	record.transition(StateValidating)

	k.mu.RLock()
	factory, ok := k.factories[name]
	k.mu.RUnlock()
	if !ok {
		record.fail(fmt.Errorf("%w: %s", ErrFactoryNotRegistered, name))
		k.reportFailure(ctx, record)
		return
	}

	instance, err := factory(record.manifest)
	if err != nil {
		record.fail(&InitializationError{Module: name, Err: fmt.Errorf("factory: %w", err)})
		k.reportFailure(ctx, record)
		return
	}

	record.load(instance)

	if err := k.initModule(ctx, record, instance); err != nil {
		record.fail(err)
		k.reportFailure(ctx, record)
		return
	}

	record.transition(StateRunning)
	k.mu.Lock()
	k.started = append(k.started, name)
	k.mu.Unlock()

	k.logger.Info("Module running", "module", name, "version", record.manifest.Version)
	k.publishSystem(ctx, ChannelModuleInitialized, modulePayload{Module: name, State: StateRunning.String()})
}

// initModule runs the instance's Init with panic containment, registers
// the manifest's subscriptions and publishes the module's service. On any
// error it rolls back subscriptions already registered so no handler of a
// failed module stays live.
func (k *Kernel) initModule(ctx context.Context, record *ModuleRecord, instance Module) (err error) {
	name := record.manifest.Name

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &InitializationError{Module: name, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		if initErr := instance.Init(ctx, &moduleRuntime{kernel: k, module: name}); initErr != nil {
			err = &InitializationError{Module: name, Err: initErr}
		}
	}()
	if err != nil {
		return err
	}

	handlers := instance.Handlers()
	var subs []Subscription
	rollback := func() {
		for _, sub := range subs {
			_ = k.bus.Unsubscribe(ctx, sub)
		}
	}
	for _, spec := range record.manifest.Subscriptions {
		handler, ok := handlers[spec.Handler]
		if !ok {
			rollback()
			return &InitializationError{Module: name, Err: fmt.Errorf("%w: %q", ErrHandlerNotDeclared, spec.Handler)}
		}
		sub, subErr := k.bus.Subscribe(ctx, spec.Pattern, handler)
		if subErr != nil {
			rollback()
			return &InitializationError{Module: name, Err: subErr}
		}
		subs = append(subs, sub)
	}

	if provider, ok := instance.(ServiceProviding); ok {
		svcName := provider.ServiceName()
		k.mu.Lock()
		if other, taken := k.services[svcName]; taken {
			k.mu.Unlock()
			rollback()
			return &InitializationError{Module: name, Err: fmt.Errorf("service %q already provided by module %s", svcName, other)}
		}
		k.services[svcName] = name
		k.mu.Unlock()
	}

	record.setSubscriptions(subs)
	return nil
}

// reportFailure logs and publishes a module failure.
func (k *Kernel) reportFailure(ctx context.Context, record *ModuleRecord) {
	name := record.manifest.Name
	k.logger.Error("Module failed", "module", name, "error", record.Failure())
	k.publishSystem(ctx, ChannelModuleFailed, modulePayload{Module: name, State: StateFailed.String(), Reason: record.Failure().Error()})
}

// Shutdown tears down Running modules in strict reverse of the achieved
// load order. Each module's subscriptions are removed before its Shutdown
// runs, bounded by the configured grace period; an overrun is recorded as
// a ShutdownTimeoutError and teardown proceeds. Finally the bus and mirror
// are stopped.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if !k.booted {
		k.mu.Unlock()
		return ErrKernelNotBooted
	}
	if k.stopped {
		k.mu.Unlock()
		return nil
	}
	k.stopped = true
	started := make([]string, len(k.started))
	copy(started, k.started)
	k.mu.Unlock()

	k.publishSystem(ctx, ChannelKernelShutdown, nil)

	if k.monitor != nil {
		k.monitor.Stop()
	}
	if k.watcher != nil {
		_ = k.watcher.Close()
	}
	if k.status != nil {
		_ = k.status.Close(ctx)
	}

	for i := len(started) - 1; i >= 0; i-- {
		k.shutdownModule(ctx, k.record(started[i]))
	}

	busCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.config.ShutdownGrace)
	defer cancel()
	if err := k.bus.Stop(busCtx); err != nil {
		k.logger.Error("Event bus stop failed", "error", err)
	}
	if sink := k.bus.Mirror(); sink != nil {
		if err := sink.Close(); err != nil {
			k.logger.Warn("Mirror sink close failed", "error", err)
		}
	}
	k.logger.Info("Kernel shutdown complete")
	return nil
}

// shutdownModule drives one Running module to Stopped (or Failed on error
// or grace overrun). Subscriptions go first so no event reaches the module
// mid-teardown.
func (k *Kernel) shutdownModule(ctx context.Context, record *ModuleRecord) {
	name := record.manifest.Name

	instance, subs, ok := record.beginShutdown()
	if !ok {
		return
	}
	k.withdrawService(instance)

	for _, sub := range subs {
		if err := k.bus.Unsubscribe(ctx, sub); err != nil {
			k.logger.Warn("Unsubscribe failed during shutdown", "module", name, "error", err)
		}
	}

	grace := k.config.ShutdownGrace
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- instance.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			record.finishShutdown(fmt.Errorf("shutdown: %w", err))
			k.logger.Error("Module shutdown failed", "module", name, "error", err)
		} else {
			record.finishShutdown(nil)
			k.logger.Info("Module stopped", "module", name)
			k.publishSystem(ctx, ChannelModuleStopped, modulePayload{Module: name, State: StateStopped.String()})
		}
	case <-shutdownCtx.Done():
		record.finishShutdown(&ShutdownTimeoutError{Module: name, Grace: grace.String()})
		k.logger.Error("Module shutdown timed out", "module", name, "grace", grace)
	}
}

// withdrawService removes the instance's service registration, if any.
func (k *Kernel) withdrawService(instance Module) {
	provider, ok := instance.(ServiceProviding)
	if !ok {
		return
	}
	k.mu.Lock()
	delete(k.services, provider.ServiceName())
	k.mu.Unlock()
}

// LookupService resolves a named service provided by a module that is
// currently Running. Resolution happens at call time; no reference is
// captured across module lifecycles.
func (k *Kernel) LookupService(name string) (any, bool) {
	k.mu.RLock()
	moduleName, ok := k.services[name]
	record := k.records[moduleName]
	k.mu.RUnlock()
	if !ok || record == nil {
		return nil, false
	}
	instance, ok := record.runningInstance()
	if !ok {
		return nil, false
	}
	provider, ok := instance.(ServiceProviding)
	if !ok {
		return nil, false
	}
	return provider.Service(), true
}

// runningInstance returns the live instance of a Running module.
func (k *Kernel) runningInstance(name string) (Module, bool) {
	record := k.record(name)
	if record == nil {
		return nil, false
	}
	return record.runningInstance()
}

// Record returns the module record for name, for inspection.
func (k *Kernel) Record(name string) (*ModuleRecord, bool) {
	record := k.record(name)
	return record, record != nil
}

// Report builds the boot report: one line per discovered module with its
// state and, for Failed or Skipped modules, the reason.
func (k *Kernel) Report() *BootReport {
	k.mu.RLock()
	loadOrder := make([]string, len(k.loadOrder))
	copy(loadOrder, k.loadOrder)
	records := make(map[string]*ModuleRecord, len(k.records))
	for name, record := range k.records {
		records[name] = record
	}
	report := &BootReport{BootedAt: k.bootedAt}
	for _, err := range k.discoveryErrs {
		report.DiscoveryErrors = append(report.DiscoveryErrors, err.Error())
	}
	k.mu.RUnlock()

	seen := make(map[string]bool, len(records))
	for _, name := range loadOrder {
		if record, ok := records[name]; ok {
			report.Modules = append(report.Modules, record.Status())
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(records))
	for name := range records {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		report.Modules = append(report.Modules, records[name].Status())
	}
	return report
}

// markDegraded flags a Running module, returning whether the flag changed.
// Used by the health monitor.
func (k *Kernel) markDegraded(name string, degraded bool) bool {
	record := k.record(name)
	if record == nil {
		return false
	}
	return record.markDegraded(degraded)
}

// RestartModule shuts the named Running module down and re-runs its
// factory and Init, leaving its position in the shutdown order unchanged.
// Dependents are never touched; modules that care about the bounce
// subscribe to system.module_restarted and react themselves.
func (k *Kernel) RestartModule(ctx context.Context, name string) error {
	record := k.record(name)
	if record == nil {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if state := record.State(); state != StateRunning {
		return fmt.Errorf("%w: %s is %s", ErrModuleNotRunning, name, state)
	}

	k.shutdownModule(ctx, record)
	if record.State() != StateStopped {
		return fmt.Errorf("restart of %s aborted: %w", name, record.Failure())
	}
	record.resetForRestart()

	k.mu.RLock()
	factory := k.factories[name]
	k.mu.RUnlock()

	instance, err := factory(record.manifest)
	if err != nil {
		record.fail(&InitializationError{Module: name, Err: fmt.Errorf("factory: %w", err)})
		k.reportFailure(ctx, record)
		return record.Failure()
	}

	record.load(instance)
	if err := k.initModule(ctx, record, instance); err != nil {
		record.fail(err)
		k.reportFailure(ctx, record)
		return err
	}

	record.transition(StateRunning)
	k.logger.Info("Module restarted", "module", name)
	k.publishSystem(ctx, ChannelModuleRestarted, modulePayload{Module: name, State: StateRunning.String()})
	return nil
}

// Run boots the kernel, starts the health monitor and the optional
// manifest watcher and status endpoint, then blocks until the context is
// cancelled or a termination signal arrives, and shuts everything down.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.Boot(ctx); err != nil {
		return err
	}

	k.monitor = NewHealthMonitor(k, k.config.Health)
	if err := k.monitor.Start(ctx); err != nil {
		k.logger.Error("Health monitor failed to start", "error", err)
	}

	if k.config.WatchManifests {
		watcher, err := WatchManifests(ctx, k.config.ModuleRoot, k.bus, k.logger)
		if err != nil {
			k.logger.Warn("Manifest watcher unavailable", "error", err)
		} else {
			k.watcher = watcher
		}
	}

	if k.config.Status.Enabled {
		k.status = NewStatusServer(k, k.config.Status)
		k.status.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		k.logger.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		k.logger.Info("Context cancelled, shutting down")
	}
	return k.Shutdown(context.WithoutCancel(ctx))
}

// attachMirror builds the configured mirror sink and attaches it to the
// bus. A sink that cannot be attached is a boot error.
func (k *Kernel) attachMirror(ctx context.Context) error {
	switch k.config.Mirror.Type {
	case "":
		return nil
	case "file":
		sink, err := NewFileMirror(k.config.Mirror.Path)
		if err != nil {
			return err
		}
		k.bus.SetMirror(sink)
	case "redis":
		sink, err := NewRedisMirror(ctx, k.config.Mirror.Redis)
		if err != nil {
			return err
		}
		k.bus.SetMirror(sink)
	default:
		return fmt.Errorf("unknown mirror sink type %q", k.config.Mirror.Type)
	}
	return nil
}

// publishSystem emits a kernel-sourced event, logging rather than
// propagating failures: kernel events are observability, not control flow.
func (k *Kernel) publishSystem(ctx context.Context, channel string, payload any) {
	event := Event{Channel: channel, Payload: payload, Source: "kernel"}
	if err := k.bus.Publish(ctx, event); err != nil {
		k.logger.Debug("Failed to publish kernel event", "channel", channel, "error", err)
	}
}

// moduleRuntime is the Runtime handed to one module; it stamps the module
// name on published events.
type moduleRuntime struct {
	kernel *Kernel
	module string
}

// Publish implements Runtime.
func (rt *moduleRuntime) Publish(ctx context.Context, channel string, payload any) error {
	return rt.kernel.bus.Publish(ctx, Event{Channel: channel, Payload: payload, Source: rt.module})
}

// LookupService implements Runtime.
func (rt *moduleRuntime) LookupService(name string) (any, bool) {
	return rt.kernel.LookupService(name)
}

// Logger implements Runtime.
func (rt *moduleRuntime) Logger() Logger {
	return rt.kernel.logger
}
