package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validManifest(name string) *ModuleManifest {
	return &ModuleManifest{
		Name:     name,
		Version:  "1.0.0",
		Tier:     TierCapability,
		Priority: PriorityNormal,
	}
}

func TestManifestValidate(t *testing.T) {
	t.Run("valid_manifest_passes", func(t *testing.T) {
		m := validManifest("memory")
		m.Dependencies = []string{"providers"}
		m.Subscriptions = []SubscriptionSpec{{Pattern: "perception.*", Handler: "onInput"}}
		assert.NoError(t, m.Validate())
	})

	t.Run("missing_name", func(t *testing.T) {
		m := validManifest("")
		assert.ErrorIs(t, m.Validate(), ErrManifestNameMissing)
	})

	t.Run("missing_version", func(t *testing.T) {
		m := validManifest("memory")
		m.Version = ""
		assert.ErrorIs(t, m.Validate(), ErrManifestVersionMissing)
	})

	t.Run("unknown_tier", func(t *testing.T) {
		m := validManifest("memory")
		m.Tier = "backbone"
		assert.ErrorIs(t, m.Validate(), ErrManifestInvalidTier)
	})

	t.Run("unknown_priority", func(t *testing.T) {
		m := validManifest("memory")
		m.Priority = "urgent"
		assert.ErrorIs(t, m.Validate(), ErrManifestInvalidPriority)
	})

	t.Run("self_dependency", func(t *testing.T) {
		m := validManifest("memory")
		m.Dependencies = []string{"providers", "memory"}
		assert.ErrorIs(t, m.Validate(), ErrManifestSelfDependency)
	})

	t.Run("subscription_missing_handler", func(t *testing.T) {
		m := validManifest("memory")
		m.Subscriptions = []SubscriptionSpec{{Pattern: "perception.*"}}
		assert.ErrorIs(t, m.Validate(), ErrManifestSubscriptionIncomplete)
	})

	t.Run("subscription_bad_pattern", func(t *testing.T) {
		m := validManifest("memory")
		m.Subscriptions = []SubscriptionSpec{{Pattern: "perception.**", Handler: "onInput"}}
		assert.ErrorIs(t, m.Validate(), ErrInvalidPattern)
	})
}

func TestManifestDefaults(t *testing.T) {
	m := &ModuleManifest{Name: "memory", Version: "1.0.0"}
	m.applyDefaults()
	assert.Equal(t, TierCapability, m.Tier)
	assert.Equal(t, PriorityNormal, m.Priority)

	// Explicit values survive.
	m2 := &ModuleManifest{Name: "core", Version: "1.0.0", Tier: TierCore, Priority: PriorityCritical}
	m2.applyDefaults()
	assert.Equal(t, TierCore, m2.Tier)
	assert.Equal(t, PriorityCritical, m2.Priority)
}

func TestManifestDependsOn(t *testing.T) {
	m := validManifest("memory")
	m.Dependencies = []string{"providers", "config"}
	assert.True(t, m.DependsOn("providers"))
	assert.False(t, m.DependsOn("bus"))
}

func TestPriorityWeightOrdering(t *testing.T) {
	assert.Greater(t, PriorityCritical.weight(), PriorityHigh.weight())
	assert.Greater(t, PriorityHigh.weight(), PriorityNormal.weight())
	assert.Greater(t, PriorityNormal.weight(), PriorityLow.weight())
}
