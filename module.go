// Package kernel provides a plugin-style module kernel for Go applications.
// It discovers self-describing modules from declarative manifests, orders
// their startup by declared dependencies, drives each through a shared
// lifecycle state machine, and connects them through an in-process
// publish/subscribe event bus with glob-style channel patterns.
//
// A module kernel application is built from three pieces: manifests on disk
// (one directory per module containing a module.yaml or module.toml), a
// factory per module name that constructs the live instance, and the Kernel
// which ties them together:
//
//	k := kernel.New(cfg, logger)
//	k.RegisterFactory("memory", NewMemoryModule)
//	k.RegisterFactory("providers", NewProviderModule)
//	if err := k.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Modules never hold direct references to each other. Cross-module
// communication goes through published events, and the only sanctioned
// direct coupling is the name-based service lookup the kernel exposes to
// modules whose dependencies have already reached the Running state.
package kernel

import "context"

// Module is the lifecycle contract every module instance implements.
// Instances are created by a registered ModuleFactory once the module's
// dependencies are Running, and are driven through
// Init -> handler registration -> Running -> Shutdown by the kernel.
type Module interface {
	// Name returns the unique module identifier. It must match the name
	// declared in the module's manifest.
	Name() string

	// Init prepares the module for operation. It is invoked at most once,
	// after every declared dependency has reached the Running state. The
	// Runtime gives the module access to event publishing, service lookup
	// and logging. Returning an error moves the module to the Failed state
	// and skips its transitive dependents, without aborting the boot of
	// independent modules.
	Init(ctx context.Context, rt Runtime) error

	// Shutdown releases the module's resources. It is invoked at most once,
	// in reverse load order, after the module's subscriptions have been
	// removed from the event bus, so no event is delivered mid-teardown.
	Shutdown(ctx context.Context) error

	// HealthCheck reports the module's current health. It is polled
	// periodically by the health monitor while the module is Running and
	// should return quickly.
	HealthCheck(ctx context.Context) HealthReport

	// Handlers returns the module's event handlers keyed by handler name.
	// The manifest's subscription entries bind these names to channel
	// patterns; a subscription naming a handler missing from this map is an
	// initialization error.
	Handlers() map[string]EventHandler
}

// ModuleFactory constructs a module instance from its validated manifest.
// Factories are registered with the kernel by module name before Boot.
// Requiring an explicit factory keeps module loading free of runtime
// introspection over arbitrary code.
type ModuleFactory func(manifest *ModuleManifest) (Module, error)

// ServiceProviding is an optional interface for modules that expose a named
// capability to later-loading modules. The service name is published to the
// kernel's service registry when the module reaches Running and withdrawn
// when it leaves that state. Consumers resolve the service by name at call
// time through Runtime.LookupService; the registry never hands out captured
// references from before the provider was Running.
type ServiceProviding interface {
	// ServiceName returns the name under which the service is registered,
	// e.g. "memory" or "providers".
	ServiceName() string

	// Service returns the capability value handed to consumers.
	Service() any
}

// Runtime is the kernel surface handed to modules during Init and kept by
// them for the lifetime of the process. It is the only way a module touches
// the rest of the system.
type Runtime interface {
	// Publish emits an event on the given dot-segmented channel. The source
	// module is recorded on the event for audit. Publishing to a channel
	// with no matching subscriptions is a no-op.
	Publish(ctx context.Context, channel string, payload any) error

	// LookupService resolves a service name registered by an already-Running
	// module. The second return is false when no such service is available.
	LookupService(name string) (any, bool)

	// Logger returns the kernel's structured logger.
	Logger() Logger
}
