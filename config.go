package kernel

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Env var prefix for kernel configuration overrides.
const envPrefix = "KERNEL_"

// HealthConfig configures the health monitor.
type HealthConfig struct {
	// Interval between probe sweeps over Running modules.
	Interval time.Duration `yaml:"interval" env:"HEALTH_INTERVAL" default:"30s"`

	// UnhealthyThreshold is how many consecutive failing probes flag a
	// module as degraded.
	UnhealthyThreshold int `yaml:"unhealthyThreshold" env:"HEALTH_UNHEALTHY_THRESHOLD" default:"3"`

	// Restart enables the restart policy for degraded modules.
	Restart RestartConfig `yaml:"restart"`
}

// RestartConfig is the (default off) auto-restart policy applied when a
// module is flagged degraded.
type RestartConfig struct {
	// Enabled turns the policy on.
	Enabled bool `yaml:"enabled" env:"HEALTH_RESTART_ENABLED"`

	// MaxAttempts bounds restart attempts per degradation episode.
	MaxAttempts uint64 `yaml:"maxAttempts" env:"HEALTH_RESTART_MAX_ATTEMPTS" default:"3"`

	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration `yaml:"initialBackoff" env:"HEALTH_RESTART_INITIAL_BACKOFF" default:"500ms"`
}

// MirrorConfig selects and configures the optional durable mirror sink.
type MirrorConfig struct {
	// Type is "", "file" or "redis". Empty disables mirroring.
	Type string `yaml:"type" env:"MIRROR_TYPE"`

	// Path is the append-only log location for the "file" sink.
	Path string `yaml:"path" env:"MIRROR_PATH" default:"kernel-events.log"`

	// Redis configures the "redis" sink.
	Redis RedisMirrorConfig `yaml:"redis"`
}

// StatusConfig configures the optional HTTP status endpoint.
type StatusConfig struct {
	// Enabled turns the endpoint on.
	Enabled bool `yaml:"enabled" env:"STATUS_ENABLED"`

	// Addr is the listen address.
	Addr string `yaml:"addr" env:"STATUS_ADDR" default:":8137"`
}

// KernelConfig is the kernel's own configuration. Module configuration
// lives in manifests; nothing here reaches into modules.
type KernelConfig struct {
	// ModuleRoot is the directory whose immediate subdirectories hold
	// module manifests.
	ModuleRoot string `yaml:"moduleRoot" env:"MODULE_ROOT" default:"./modules"`

	// ShutdownGrace bounds each module's Shutdown call. A module that
	// overruns is recorded as failed in the report and teardown proceeds.
	ShutdownGrace time.Duration `yaml:"shutdownGrace" env:"SHUTDOWN_GRACE" default:"10s"`

	// WatchManifests enables the fsnotify watcher that publishes
	// system.manifest_changed events on manifest edits.
	WatchManifests bool `yaml:"watchManifests" env:"WATCH_MANIFESTS"`

	Bus    BusConfig    `yaml:"bus"`
	Health HealthConfig `yaml:"health"`
	Mirror MirrorConfig `yaml:"mirror"`
	Status StatusConfig `yaml:"status"`
}

// DefaultConfig returns a KernelConfig with every `default` tag applied.
func DefaultConfig() *KernelConfig {
	cfg := &KernelConfig{}
	applyDefaults(reflect.ValueOf(cfg).Elem())
	return cfg
}

// LoadConfig builds the kernel configuration from, in increasing
// precedence: struct defaults, the YAML file at path (skipped when path is
// empty), then KERNEL_-prefixed environment variables cast to the field
// type.
func LoadConfig(path string) (*KernelConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading kernel config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing kernel config %s: %w", path, err)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults walks the struct and sets `default`-tagged fields that are
// still zero.
func applyDefaults(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			applyDefaults(field)
			continue
		}
		def, ok := t.Field(i).Tag.Lookup("default")
		if !ok || !field.IsZero() {
			continue
		}
		// Defaults are code-owned; a bad one is a programming error.
		if err := setFromString(field, def); err != nil {
			panic(fmt.Sprintf("bad default %q for field %s: %v", def, t.Field(i).Name, err))
		}
	}
}

// applyEnv walks the struct and overrides `env`-tagged fields from the
// environment.
func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}
		name, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		value := os.Getenv(envPrefix + name)
		if value == "" {
			continue
		}
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("environment override %s%s: %w", envPrefix, name, err)
		}
	}
	return nil
}

// setFromString converts and assigns a string to a field. Durations are
// parsed with time.ParseDuration; everything else goes through
// golobby/cast type conversion.
func setFromString(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", value, err)
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}
	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %s: %w", value, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted))
	return nil
}
