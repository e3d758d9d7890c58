package kernel

import "time"

// ModuleStatus is one module's line in the boot report.
type ModuleStatus struct {
	// Name is the module name.
	Name string `json:"name"`

	// Version comes from the manifest.
	Version string `json:"version"`

	// Tier and Priority come from the manifest.
	Tier     Tier     `json:"tier"`
	Priority Priority `json:"priority"`

	// State is the lifecycle state at report time.
	State ModuleState `json:"state"`

	// Degraded is set when the health monitor has flagged a Running module.
	Degraded bool `json:"degraded,omitempty"`

	// Reason explains Failed (the error) or Skipped (which dependency
	// failed). Empty otherwise.
	Reason string `json:"reason,omitempty"`

	// Since is when the module entered its current state.
	Since time.Time `json:"since"`
}

// BootReport summarizes the outcome of a boot (and, after shutdown, the
// teardown) for every discovered module, plus discovery-level failures that
// could not be attributed to a loadable module. The kernel never aborts a
// whole boot for a failure local to one module, so the report is the
// user-visible account of what actually happened.
type BootReport struct {
	// Modules holds one entry per discovered module, in load order for
	// modules that got one, then excluded modules by name.
	Modules []ModuleStatus `json:"modules"`

	// DiscoveryErrors lists manifests that could not be parsed or
	// validated, as strings for presentation.
	DiscoveryErrors []string `json:"discoveryErrors,omitempty"`

	// BootedAt is when the boot sequence finished.
	BootedAt time.Time `json:"bootedAt"`
}

// Running returns the names of modules currently in the Running state.
func (r *BootReport) Running() []string {
	var out []string
	for _, m := range r.Modules {
		if m.State == StateRunning {
			out = append(out, m.Name)
		}
	}
	return out
}

// Failed returns the names of modules in the Failed state.
func (r *BootReport) Failed() []string {
	var out []string
	for _, m := range r.Modules {
		if m.State == StateFailed {
			out = append(out, m.Name)
		}
	}
	return out
}

// Skipped returns the names of modules skipped because of a failed
// ancestor.
func (r *BootReport) Skipped() []string {
	var out []string
	for _, m := range r.Modules {
		if m.State == StateSkipped {
			out = append(out, m.Name)
		}
	}
	return out
}
