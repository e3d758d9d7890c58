package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusRequest(t *testing.T, k *Kernel, target string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewStatusServer(k, StatusConfig{Addr: ":0"})
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStatusHealthz(t *testing.T) {
	t.Run("all_running_is_200", func(t *testing.T) {
		k := newTestKernel(t)
		require.NoError(t, k.RegisterFactory("a", stubFactory(newStub("a", nil))))
		ctx := context.Background()
		require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{manifestWithDeps("a", PriorityNormal)}))
		defer k.Shutdown(ctx)

		rec := statusRequest(t, k, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["healthy"])
		assert.EqualValues(t, 1, body["running"])
	})

	t.Run("failed_module_is_503", func(t *testing.T) {
		k := newTestKernel(t)
		broken := newStub("broken", nil)
		broken.initErr = errors.New("nope")
		require.NoError(t, k.RegisterFactory("broken", stubFactory(broken)))
		ctx := context.Background()
		require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{manifestWithDeps("broken", PriorityNormal)}))
		defer k.Shutdown(ctx)

		rec := statusRequest(t, k, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing_dependency_fails_the_check", func(t *testing.T) {
		k := newTestKernel(t)
		require.NoError(t, k.RegisterFactory("a", stubFactory(newStub("a", nil))))
		ctx := context.Background()
		require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{
			manifestWithDeps("a", PriorityNormal),
			manifestWithDeps("waiting", PriorityNormal, "ghost"),
		}))
		defer k.Shutdown(ctx)

		// "waiting" is excluded for its missing dependency, which counts as
		// failed rather than skipped.
		rec := statusRequest(t, k, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStatusModules(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, k.RegisterFactory("a", stubFactory(newStub("a", nil))))
	ctx := context.Background()
	require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{manifestWithDeps("a", PriorityNormal)}))
	defer k.Shutdown(ctx)

	rec := statusRequest(t, k, "/modules")
	require.Equal(t, http.StatusOK, rec.Code)

	var report BootReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Modules, 1)
	assert.Equal(t, "a", report.Modules[0].Name)
}

func TestStatusModuleDetail(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, k.RegisterFactory("a", stubFactory(newStub("a", nil))))
	ctx := context.Background()
	require.NoError(t, k.BootManifests(ctx, []*ModuleManifest{manifestWithDeps("a", PriorityNormal)}))
	defer k.Shutdown(ctx)

	t.Run("known_module", func(t *testing.T) {
		rec := statusRequest(t, k, "/modules/a")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "running", body["state"])
		assert.Equal(t, "1.0.0", body["version"])
	})

	t.Run("unknown_module_is_404", func(t *testing.T) {
		rec := statusRequest(t, k, "/modules/ghost")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatusReplay(t *testing.T) {
	t.Run("no_mirror_is_404", func(t *testing.T) {
		k := newTestKernel(t)
		ctx := context.Background()
		require.NoError(t, k.BootManifests(ctx, nil))
		defer k.Shutdown(ctx)

		rec := statusRequest(t, k, "/events/replay")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("replays_mirrored_events", func(t *testing.T) {
		k := newTestKernel(t)
		ctx := context.Background()
		require.NoError(t, k.BootManifests(ctx, nil))
		defer k.Shutdown(ctx)

		sink := newTestFileMirror(t)
		require.NoError(t, sink.Append(ctx, Event{ID: "1", Channel: "audit.entry", Timestamp: time.Now()}))
		k.Bus().SetMirror(sink)

		rec := statusRequest(t, k, "/events/replay?pattern=audit.*")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Count  int     `json:"count"`
			Events []Event `json:"events"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		require.Len(t, body.Events, 1)
		assert.Equal(t, "audit.entry", body.Events[0].Channel)
	})

	t.Run("bad_pattern_is_400", func(t *testing.T) {
		k := newTestKernel(t)
		ctx := context.Background()
		require.NoError(t, k.BootManifests(ctx, nil))
		defer k.Shutdown(ctx)
		k.Bus().SetMirror(newTestFileMirror(t))

		rec := statusRequest(t, k, "/events/replay?pattern=a.**")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = statusRequest(t, k, "/events/replay?from=not-a-time")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
