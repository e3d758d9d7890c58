package kernel

import "log/slog"

// Logger defines the structured logging interface used throughout the
// kernel. All kernel operations (discovery, dependency resolution, module
// lifecycle transitions, event dispatch failures) are logged through it
// using key-value pairs:
//
//	logger.Info("Module initialized", "module", "memory", "state", "running")
//
// The shape is compatible with slog, logrus, zap sugared loggers and
// similar structured logging libraries, so applications can plug in
// whatever they already use.
type Logger interface {
	// Info logs normal kernel events such as module state transitions.
	Info(msg string, args ...any)

	// Error logs failures that do not abort the boot but should be noted,
	// such as handler errors isolated at the bus boundary.
	Error(msg string, args ...any)

	// Warn logs unusual conditions such as a degraded health probe.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics such as resolved load order.
	Debug(msg string, args ...any)
}

// slogLogger adapts log/slog to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an slog.Logger as a kernel Logger. Passing nil uses
// slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
