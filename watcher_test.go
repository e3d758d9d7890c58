package kernel

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestWatcherPublishesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "memory"), 0o755))

	bus := newTestBus(t, BusConfig{})
	ctx := context.Background()

	var mu sync.Mutex
	var changes []manifestChange
	_, err := bus.Subscribe(ctx, ChannelManifestChanged, func(ctx context.Context, e Event) error {
		if payload, ok := e.Payload.(manifestChange); ok {
			mu.Lock()
			changes = append(changes, payload)
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	watcher, err := WatchManifests(ctx, root, bus, quietLogger())
	require.NoError(t, err)
	defer watcher.Close()

	manifestPath := filepath.Join(root, "memory", "module.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("name: memory\nversion: 1.0.0\n"), 0o644))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			if c.Path == manifestPath {
				return true
			}
		}
		return false
	}, "manifest change event")
}

func TestManifestWatcherIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "memory"), 0o755))

	bus := newTestBus(t, BusConfig{})
	ctx := context.Background()

	var mu sync.Mutex
	var paths []string
	_, err := bus.Subscribe(ctx, ChannelManifestChanged, func(ctx context.Context, e Event) error {
		if payload, ok := e.Payload.(manifestChange); ok {
			mu.Lock()
			paths = append(paths, payload.Path)
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	watcher, err := WatchManifests(ctx, root, bus, quietLogger())
	require.NoError(t, err)
	defer watcher.Close()

	scratchPath := filepath.Join(root, "memory", "notes.txt")
	require.NoError(t, os.WriteFile(scratchPath, []byte("scratch"), 0o644))
	manifestPath := filepath.Join(root, "memory", "module.toml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("name = \"memory\"\nversion = \"1.0.0\"\n"), 0o644))

	// The manifest write must arrive; the unrelated file must not.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(paths) >= 1
	}, "manifest change event")
	mu.Lock()
	defer mu.Unlock()
	for _, p := range paths {
		require.Equal(t, manifestPath, p)
	}
}
