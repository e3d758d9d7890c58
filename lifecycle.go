package kernel

import (
	"fmt"
	"sync"
	"time"
)

// ModuleState is a module's position in the lifecycle state machine:
//
//	Discovered -> Validating -> Loaded -> Initializing -> Running
//	  -> ShuttingDown -> Stopped
//
// Failed is absorbing and reachable from Validating, Loaded, Initializing
// and Running. Skipped marks modules never attempted because an ancestor
// failed. Degraded is a flag on a Running module, not a distinct state.
type ModuleState int

const (
	// StateDiscovered: the manifest was parsed and recorded.
	StateDiscovered ModuleState = iota

	// StateValidating: the manifest schema and dependency states are being
	// confirmed.
	StateValidating

	// StateLoaded: the instance was constructed by its factory.
	StateLoaded

	// StateInitializing: the instance's Init is executing.
	StateInitializing

	// StateRunning: initialization succeeded, subscriptions are live and
	// any declared service is published.
	StateRunning

	// StateShuttingDown: the instance's Shutdown is executing.
	StateShuttingDown

	// StateStopped: shutdown completed and the instance was released.
	StateStopped

	// StateFailed: an unrecoverable error occurred. Absorbing.
	StateFailed

	// StateSkipped: never attempted because a (transitive) dependency
	// failed.
	StateSkipped
)

// String returns the lowercase name of the state.
func (s ModuleState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateValidating:
		return "validating"
	case StateLoaded:
		return "loaded"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states render as their
// names in JSON output.
func (s ModuleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// validTransitions encodes the state machine edges. Stopped -> Validating
// is the restart edge.
var validTransitions = map[ModuleState][]ModuleState{
	StateDiscovered:   {StateValidating, StateSkipped},
	StateValidating:   {StateLoaded, StateFailed},
	StateLoaded:       {StateInitializing, StateFailed},
	StateInitializing: {StateRunning, StateFailed},
	StateRunning:      {StateShuttingDown, StateFailed},
	StateShuttingDown: {StateStopped, StateFailed},
	StateStopped:      {StateValidating},
}

// canTransition reports whether the edge from -> to exists.
func canTransition(from, to ModuleState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ModuleRecord pairs a manifest with its live instance and lifecycle
// bookkeeping. The record guards its own mutable fields; the kernel's
// lock covers only the containers the records live in.
type ModuleRecord struct {
	manifest *ModuleManifest

	mu       sync.RWMutex
	instance Module

	state     ModuleState
	degraded  bool
	enteredAt time.Time

	// failure explains StateFailed; skipReason names the failed ancestor
	// for StateSkipped.
	failure    error
	skipReason string

	subscriptions []Subscription

	shutdownDone bool
}

// Manifest returns the module's manifest. Manifests are immutable after
// discovery.
func (r *ModuleRecord) Manifest() *ModuleManifest { return r.manifest }

// State returns the current lifecycle state.
func (r *ModuleRecord) State() ModuleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Degraded reports whether the health monitor has flagged the module.
func (r *ModuleRecord) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Failure returns the error that moved the module to Failed, or nil.
func (r *ModuleRecord) Failure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// Status snapshots the record as one boot-report line.
func (r *ModuleRecord) Status() ModuleStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := ModuleStatus{
		Name:     r.manifest.Name,
		Version:  r.manifest.Version,
		Tier:     r.manifest.Tier,
		Priority: r.manifest.Priority,
		State:    r.state,
		Degraded: r.degraded,
		Since:    r.enteredAt,
	}
	switch {
	case r.state == StateFailed && r.failure != nil:
		status.Reason = r.failure.Error()
	case r.state == StateSkipped:
		status.Reason = "dependency " + r.skipReason + " failed"
	}
	return status
}

// runningInstance returns the live instance while the module is Running.
func (r *ModuleRecord) runningInstance() (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateRunning || r.instance == nil {
		return nil, false
	}
	return r.instance, true
}

// transition moves the record to the target state, panicking on an edge
// the state machine does not allow. An invalid transition is a kernel bug,
// not a runtime condition.
func (r *ModuleRecord) transition(to ModuleState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitionLocked(to)
}

func (r *ModuleRecord) transitionLocked(to ModuleState) {
	if !canTransition(r.state, to) {
		panic(fmt.Sprintf("invalid lifecycle transition for module %q: %s -> %s",
			r.manifest.Name, r.state, to))
	}
	r.state = to
	r.enteredAt = time.Now()
}

// fail moves the record to Failed with the given cause and releases the
// instance.
func (r *ModuleRecord) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateFailed
	r.failure = err
	r.instance = nil
	r.enteredAt = time.Now()
}

// skip marks the record Skipped because of the named failed ancestor.
func (r *ModuleRecord) skip(ancestor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateSkipped
	r.skipReason = ancestor
	r.enteredAt = time.Now()
}

// load stores the constructed instance and advances the record to
// Initializing.
func (r *ModuleRecord) load(instance Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitionLocked(StateLoaded)
	r.instance = instance
	r.transitionLocked(StateInitializing)
}

// setSubscriptions stores the module's live bus subscriptions.
func (r *ModuleRecord) setSubscriptions(subs []Subscription) {
	r.mu.Lock()
	r.subscriptions = subs
	r.mu.Unlock()
}

// markDegraded sets the degraded flag on a Running module, reporting
// whether the flag actually changed.
func (r *ModuleRecord) markDegraded(degraded bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.degraded == degraded {
		return false
	}
	r.degraded = degraded
	return true
}

// beginShutdown atomically claims the record for teardown: the first
// caller gets the instance and subscriptions back, later callers get
// ok=false. Claiming moves the state to ShuttingDown.
func (r *ModuleRecord) beginShutdown() (instance Module, subs []Subscription, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdownDone || r.state != StateRunning {
		return nil, nil, false
	}
	r.shutdownDone = true
	r.transitionLocked(StateShuttingDown)
	instance = r.instance
	subs = r.subscriptions
	r.subscriptions = nil
	return instance, subs, true
}

// finishShutdown records the teardown outcome and releases the instance.
func (r *ModuleRecord) finishShutdown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateFailed
		r.failure = err
	} else {
		r.transitionLocked(StateStopped)
	}
	r.instance = nil
	r.enteredAt = time.Now()
}

// resetForRestart moves a Stopped record back to Validating with its
// failure bookkeeping cleared.
func (r *ModuleRecord) resetForRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitionLocked(StateValidating)
	r.shutdownDone = false
	r.failure = nil
	r.degraded = false
}
