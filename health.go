package kernel

import "time"

// HealthStatus is the health state reported by a module probe.
type HealthStatus int

const (
	// HealthStatusUnknown means the probe has not run or did not complete.
	HealthStatusUnknown HealthStatus = iota

	// HealthStatusHealthy means the module is operating normally.
	HealthStatusHealthy

	// HealthStatusDegraded means the module works but not optimally.
	HealthStatusDegraded

	// HealthStatusUnhealthy means the module is not functioning properly.
	HealthStatusUnhealthy
)

// String returns the lowercase name of the status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// IsHealthy reports whether the status counts as passing for the
// consecutive-failure threshold.
func (s HealthStatus) IsHealthy() bool {
	return s == HealthStatusHealthy
}

// MarshalText implements encoding.TextMarshaler so statuses render as
// their names in JSON and YAML.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthReport is the result of one module health probe.
type HealthReport struct {
	// Module is the probed module's name. Filled in by the monitor when
	// the module leaves it empty.
	Module string `json:"module"`

	// Status is the probe outcome.
	Status HealthStatus `json:"status"`

	// Message holds concise human-readable detail, mainly for non-healthy
	// statuses.
	Message string `json:"message,omitempty"`

	// CheckedAt is when the probe ran.
	CheckedAt time.Time `json:"checkedAt"`

	// Details carries optional structured diagnostics.
	Details map[string]any `json:"details,omitempty"`
}

// Healthy is a convenience constructor for a passing report.
func Healthy() HealthReport {
	return HealthReport{Status: HealthStatusHealthy, CheckedAt: time.Now()}
}

// Unhealthy is a convenience constructor for a failing report.
func Unhealthy(message string) HealthReport {
	return HealthReport{Status: HealthStatusUnhealthy, Message: message, CheckedAt: time.Now()}
}
