package kernel

import (
	"fmt"
	"slices"
)

// Tier classifies a module by its architectural layer. Tiers are advisory
// for operators and tooling; load order is driven by declared dependencies
// with priority as the tie-break.
type Tier string

// Module tiers.
const (
	TierCore        Tier = "core"
	TierCapability  Tier = "capability"
	TierIntegration Tier = "integration"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	switch t {
	case TierCore, TierCapability, TierIntegration:
		return true
	}
	return false
}

// Priority orders modules when the dependency graph leaves the choice open.
// Within a set of modules whose dependencies are all satisfied, higher
// priority loads first; ties break on lexical name order, keeping the
// resolved order deterministic across boots.
type Priority string

// Module priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// weight maps priorities to a comparable rank; higher loads earlier.
func (p Priority) weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// SubscriptionSpec binds a channel pattern to a named handler method of the
// declaring module. The handler name must appear in the module's Handlers()
// map at initialization time.
type SubscriptionSpec struct {
	// Pattern is a dot-segmented channel pattern, e.g. "perception.*".
	// A single segment may be the wildcard "*"; there is no recursive "**".
	Pattern string `yaml:"pattern" toml:"pattern" json:"pattern"`

	// Handler names the module handler invoked for matching events.
	Handler string `yaml:"handler" toml:"handler" json:"handler"`
}

// ModuleManifest is the validated in-memory form of a module's declarative
// descriptor. Unknown fields in the source file are ignored for forward
// compatibility; the fields below form the stable schema boundary.
type ModuleManifest struct {
	// Name uniquely identifies the module across the discovered set.
	Name string `yaml:"name" toml:"name" json:"name"`

	// Version is the module's semantic version string.
	Version string `yaml:"version" toml:"version" json:"version"`

	// Tier classifies the module; defaults to "capability".
	Tier Tier `yaml:"tier" toml:"tier" json:"tier"`

	// Priority is the load-order tie-break; defaults to "normal".
	Priority Priority `yaml:"priority" toml:"priority" json:"priority"`

	// Dependencies lists module names that must be Running before this
	// module loads. A module may not list itself.
	Dependencies []string `yaml:"dependencies,omitempty" toml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Subscriptions binds channel patterns to the module's named handlers.
	Subscriptions []SubscriptionSpec `yaml:"subscriptions,omitempty" toml:"subscriptions,omitempty" json:"subscriptions,omitempty"`

	// Publications documents the channels this module publishes to.
	// Advisory only; the kernel does not enforce it.
	Publications []string `yaml:"publications,omitempty" toml:"publications,omitempty" json:"publications,omitempty"`

	// Config is an opaque key-value map passed through to the module's
	// factory untouched.
	Config map[string]any `yaml:"config,omitempty" toml:"config,omitempty" json:"config,omitempty"`

	// Path is the manifest file the record was loaded from. Not part of the
	// serialized schema.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// applyDefaults fills in tier and priority when the manifest omits them.
func (m *ModuleManifest) applyDefaults() {
	if m.Tier == "" {
		m.Tier = TierCapability
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
}

// Validate checks the manifest's structural invariants: required fields,
// known enum values, well-formed subscription patterns and no
// self-dependency. Cross-manifest invariants (name uniqueness, dependency
// existence) are checked by discovery and the resolver respectively.
func (m *ModuleManifest) Validate() error {
	if m.Name == "" {
		return ErrManifestNameMissing
	}
	if m.Version == "" {
		return ErrManifestVersionMissing
	}
	if !m.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrManifestInvalidTier, m.Tier)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrManifestInvalidPriority, m.Priority)
	}
	if slices.Contains(m.Dependencies, m.Name) {
		return fmt.Errorf("%w: %s", ErrManifestSelfDependency, m.Name)
	}
	for _, sub := range m.Subscriptions {
		if sub.Pattern == "" || sub.Handler == "" {
			return fmt.Errorf("%w: %+v", ErrManifestSubscriptionIncomplete, sub)
		}
		if err := ValidatePattern(sub.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// DependsOn reports whether the manifest declares a direct dependency on
// the named module.
func (m *ModuleManifest) DependsOn(name string) bool {
	return slices.Contains(m.Dependencies, name)
}
