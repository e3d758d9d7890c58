package kernel

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher watches the module root for manifest changes and
// publishes system.manifest_changed. The kernel takes no action on these
// events itself; hot reload is out of scope. Operators and tooling
// subscribe and decide.
type ManifestWatcher struct {
	watcher *fsnotify.Watcher
	bus     *Bus
	logger  Logger
	done    chan struct{}
}

// manifestChange is the payload of system.manifest_changed events.
type manifestChange struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// WatchManifests starts watching root and every immediate subdirectory
// for manifest file changes.
func WatchManifests(ctx context.Context, root string, bus *Bus, logger Logger) (*ManifestWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := fsw.Add(filepath.Join(root, entry.Name())); err != nil {
			logger.Warn("Cannot watch module directory", "dir", entry.Name(), "error", err)
		}
	}

	w := &ManifestWatcher{watcher: fsw, bus: bus, logger: logger, done: make(chan struct{})}
	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *ManifestWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *ManifestWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Manifest watcher error", "error", err)
		}
	}
}

func (w *ManifestWatcher) handle(ctx context.Context, event fsnotify.Event) {
	// A new module directory needs its own watch before its manifest
	// write can be seen.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("Cannot watch new module directory", "dir", event.Name, "error", err)
			}
			return
		}
	}
	if !isManifestFile(event.Name) {
		return
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("Manifest changed", "path", event.Name, "op", event.Op.String())
	err := w.bus.Publish(ctx, Event{
		Channel: ChannelManifestChanged,
		Payload: manifestChange{Path: event.Name, Op: event.Op.String()},
		Source:  "kernel",
	})
	if err != nil {
		w.logger.Debug("Failed to publish manifest change", "error", err)
	}
}

// isManifestFile reports whether path's basename is a recognized
// manifest file name.
func isManifestFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range manifestFileNames {
		if base == name {
			return true
		}
	}
	return false
}
