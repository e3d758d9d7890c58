package kernel

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatusServer exposes a read-only HTTP view of the kernel: the boot
// report, per-module health, and mirror replay. It never mutates kernel
// state.
type StatusServer struct {
	kernel *Kernel
	server *http.Server
}

// NewStatusServer builds the status endpoint on the configured address.
func NewStatusServer(k *Kernel, config StatusConfig) *StatusServer {
	s := &StatusServer{kernel: k}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/modules", s.handleModules)
	r.Get("/modules/{name}", s.handleModule)
	r.Get("/events/replay", s.handleReplay)

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *StatusServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.kernel.logger.Error("Status server failed", "error", err)
		}
	}()
	s.kernel.logger.Info("Status server listening", "addr", s.server.Addr)
}

// Close shuts the server down gracefully.
func (s *StatusServer) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// handleHealthz reports 200 when every Running module is undegraded and
// nothing failed, 503 otherwise. Skipped modules do not fail the check;
// they are an accepted boot outcome.
func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.kernel.Report()
	healthy := len(report.Failed()) == 0
	for _, status := range report.Modules {
		if status.State == StateRunning && status.Degraded {
			healthy = false
		}
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy": healthy,
		"running": len(report.Running()),
		"failed":  len(report.Failed()),
		"skipped": len(report.Skipped()),
	})
}

func (s *StatusServer) handleModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.kernel.Report())
}

func (s *StatusServer) handleModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	record, ok := s.kernel.Record(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "module not found"})
		return
	}
	body := map[string]any{
		"name":     name,
		"version":  record.Manifest().Version,
		"tier":     record.Manifest().Tier,
		"priority": record.Manifest().Priority,
		"state":    record.State().String(),
		"degraded": record.Degraded(),
	}
	if failure := record.Failure(); failure != nil {
		body["failure"] = failure.Error()
	}
	if s.kernel.monitor != nil {
		if health, ok := s.kernel.monitor.Latest(name); ok {
			body["health"] = health
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleReplay serves mirrored events. Query parameters: pattern (channel
// pattern, empty for all), from and to (RFC 3339, both optional).
func (s *StatusServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	sink := s.kernel.bus.Mirror()
	if sink == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no mirror sink configured"})
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern != "" {
		if err := ValidatePattern(pattern); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	from, err := parseTimeParam(r.URL.Query().Get("from"), time.Time{})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad from: " + err.Error()})
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad to: " + err.Error()})
		return
	}

	events, err := sink.Replay(r.Context(), pattern, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(events), "events": events})
}

func parseTimeParam(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
