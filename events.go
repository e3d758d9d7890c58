package kernel

// Channels the kernel itself publishes on. Modules subscribe to these like
// any other channel; the kernel imposes no further semantics on the
// "system" namespace.
const (
	// ChannelModuleInitialized fires when a module reaches Running.
	ChannelModuleInitialized = "system.module_initialized"

	// ChannelModuleFailed fires when a module enters Failed.
	ChannelModuleFailed = "system.module_failed"

	// ChannelModuleSkipped fires when a module is skipped because an
	// ancestor failed.
	ChannelModuleSkipped = "system.module_skipped"

	// ChannelModuleStopped fires when a module reaches Stopped.
	ChannelModuleStopped = "system.module_stopped"

	// ChannelModuleDegraded fires when the health monitor flags a module.
	ChannelModuleDegraded = "system.module_degraded"

	// ChannelModuleRecovered fires when a degraded module passes its probe
	// again.
	ChannelModuleRecovered = "system.module_recovered"

	// ChannelModuleRestarted fires when the restart policy brings a module
	// back to Running.
	ChannelModuleRestarted = "system.module_restarted"

	// ChannelKernelBooted fires once the boot sequence completes.
	ChannelKernelBooted = "system.kernel_booted"

	// ChannelKernelShutdown fires when the shutdown sequence begins.
	ChannelKernelShutdown = "system.kernel_shutdown"

	// ChannelManifestChanged fires when the manifest watcher observes a
	// change under the module root. Advisory; the kernel does not hot
	// reload.
	ChannelManifestChanged = "system.manifest_changed"
)

// modulePayload is the payload shape of system.module_* events.
type modulePayload struct {
	Module string `json:"module"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}
