package kernel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kernel errors
var (
	// Manifest errors
	ErrManifestNameMissing    = errors.New("manifest name is required")
	ErrManifestVersionMissing = errors.New("manifest version is required")
	ErrManifestSelfDependency = errors.New("module cannot depend on itself")
	ErrManifestDuplicateName  = errors.New("duplicate module name")
	ErrManifestInvalidTier    = errors.New("invalid module tier")
	ErrManifestInvalidPriority = errors.New("invalid module priority")
	ErrManifestSubscriptionIncomplete = errors.New("subscription requires pattern and handler")
	ErrManifestAmbiguous      = errors.New("multiple manifests found in module directory")

	// Event bus errors
	ErrBusNotStarted      = errors.New("event bus not started")
	ErrBusShutdownTimeout = errors.New("event bus shutdown timed out")
	ErrHandlerNil         = errors.New("event handler cannot be nil")
	ErrInvalidPattern     = errors.New("invalid channel pattern")
	ErrInvalidChannel     = errors.New("invalid channel name")
	ErrUnknownSubscription = errors.New("unknown subscription type")

	// Lifecycle errors
	ErrFactoryNotRegistered   = errors.New("no factory registered for module")
	ErrFactoryAlreadyRegistered = errors.New("factory already registered for module")
	ErrHandlerNotDeclared     = errors.New("manifest subscription names undeclared handler")
	ErrKernelAlreadyBooted    = errors.New("kernel already booted")
	ErrKernelNotBooted        = errors.New("kernel not booted")
	ErrModuleNotFound         = errors.New("module not found")
	ErrModuleNotRunning       = errors.New("module is not running")

	// Mirror sink errors
	ErrMirrorClosed = errors.New("mirror sink is closed")
)

// ManifestError reports a single malformed manifest encountered during
// discovery. Discovery collects these and continues with the remaining
// module directories.
type ManifestError struct {
	// Path is the manifest file (or module directory, when no manifest
	// could be located) the error refers to.
	Path string

	// Name is the module name, when it could be parsed.
	Name string

	// Err is the underlying validation or parse failure.
	Err error
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("manifest %s (module %q): %v", e.Path, e.Name, e.Err)
	}
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ManifestError) Unwrap() error { return e.Err }

// CycleError reports a dependency cycle. Members holds the exact set of
// module names participating in at least one cycle, sorted for stable
// output, so the failure is debuggable rather than a bare "cycle exists".
type CycleError struct {
	Members []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving modules: %s", strings.Join(e.Members, ", "))
}

// Contains reports whether name participates in the detected cycle(s).
func (e *CycleError) Contains(name string) bool {
	for _, m := range e.Members {
		if m == name {
			return true
		}
	}
	return false
}

// MissingDependencyError reports dependencies that reference module names
// absent from the discovered set. Missing maps each absent name to the
// modules that declared it.
type MissingDependencyError struct {
	Missing map[string][]string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (required by %s)", name, strings.Join(e.Missing[name], ", ")))
	}
	return "missing dependencies: " + strings.Join(parts, "; ")
}

// Dependents returns the sorted set of modules affected by at least one
// missing dependency.
func (e *MissingDependencyError) Dependents() []string {
	seen := make(map[string]struct{})
	for _, deps := range e.Missing {
		for _, d := range deps {
			seen[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// InitializationError reports a module whose own startup failed. Only the
// module and its transitive dependents are affected; independent modules
// continue booting.
type InitializationError struct {
	Module string
	Err    error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("module %q failed to initialize: %v", e.Module, e.Err)
}

// Unwrap returns the underlying failure.
func (e *InitializationError) Unwrap() error { return e.Err }

// HandlerError reports a subscription callback failure. It is logged at the
// bus boundary and never propagated to the publisher or other subscribers.
type HandlerError struct {
	Channel      string
	Subscription string
	Err          error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for subscription %s failed on channel %s: %v", e.Subscription, e.Channel, e.Err)
}

// Unwrap returns the underlying failure.
func (e *HandlerError) Unwrap() error { return e.Err }

// ShutdownTimeoutError reports a module that did not stop within the
// configured grace period. The kernel records it and proceeds rather than
// hanging indefinitely.
type ShutdownTimeoutError struct {
	Module string
	Grace  string
}

// Error implements the error interface.
func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("module %q did not shut down within %s", e.Module, e.Grace)
}
