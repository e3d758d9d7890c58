package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// MirrorSink is the pluggable durable transport the bus optionally mirrors
// events to. Durability is best-effort: an unavailable sink never blocks or
// degrades in-process delivery. Implementations must be safe for concurrent
// Append calls.
type MirrorSink interface {
	// Append writes one event to the durable log.
	Append(ctx context.Context, event Event) error

	// Replay returns mirrored events whose channel matches pattern (empty
	// pattern matches everything) and whose timestamp falls in [from, to].
	// A zero `to` means "now".
	Replay(ctx context.Context, pattern string, from, to time.Time) ([]Event, error)

	// Close releases the sink's resources.
	Close() error
}

// toCloudEvent renders a bus event as a CloudEvents v1.0 envelope. The
// channel becomes the event type and the publishing module the source, so
// mirrored logs interoperate with CloudEvents tooling.
func toCloudEvent(event Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(event.ID)
	ce.SetType(event.Channel)
	source := event.Source
	if source == "" {
		source = "kernel"
	}
	ce.SetSource(source)
	ce.SetTime(event.Timestamp)
	if event.Payload != nil {
		if err := ce.SetData(cloudevents.ApplicationJSON, event.Payload); err != nil {
			return ce, fmt.Errorf("encoding event payload: %w", err)
		}
	}
	return ce, nil
}

// fromCloudEvent reverses toCloudEvent. The payload comes back as the
// decoded JSON value, not the publisher's original Go type.
func fromCloudEvent(ce cloudevents.Event) Event {
	event := Event{
		ID:        ce.ID(),
		Channel:   ce.Type(),
		Source:    ce.Source(),
		Timestamp: ce.Time(),
	}
	if data := ce.Data(); len(data) > 0 {
		var payload any
		if err := json.Unmarshal(data, &payload); err == nil {
			event.Payload = payload
		}
	}
	if event.Source == "kernel" {
		event.Source = ""
	}
	return event
}

// FileMirror is an append-only JSON-lines mirror sink, one CloudEvents
// envelope per line. Suitable for audit trails and local replay.
type FileMirror struct {
	path string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewFileMirror opens (creating if needed) an append-only event log at
// path.
func NewFileMirror(path string) (*FileMirror, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening mirror log %s: %w", path, err)
	}
	return &FileMirror{path: path, file: f}, nil
}

// Append writes one event as a JSON line.
func (m *FileMirror) Append(_ context.Context, event Event) error {
	ce, err := toCloudEvent(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("encoding mirrored event: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMirrorClosed
	}
	if _, err := m.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to mirror log: %w", err)
	}
	return nil
}

// Replay scans the log and returns matching events in append order.
// Corrupt lines are skipped rather than failing the whole replay.
func (m *FileMirror) Replay(_ context.Context, pattern string, from, to time.Time) ([]Event, error) {
	if pattern != "" {
		if err := ValidatePattern(pattern); err != nil {
			return nil, err
		}
	}
	if to.IsZero() {
		to = time.Now()
	}

	f, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("opening mirror log for replay: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ce cloudevents.Event
		if err := json.Unmarshal(scanner.Bytes(), &ce); err != nil {
			continue
		}
		event := fromCloudEvent(ce)
		if !replayMatch(event, pattern, from, to) {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning mirror log: %w", err)
	}
	return events, nil
}

// Close flushes and closes the underlying file. Idempotent.
func (m *FileMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.file.Close(); err != nil {
		return fmt.Errorf("closing mirror log: %w", err)
	}
	return nil
}

// replayMatch applies the shared pattern and time-range filter.
func replayMatch(event Event, pattern string, from, to time.Time) bool {
	if pattern != "" && !MatchChannel(pattern, event.Channel) {
		return false
	}
	if !from.IsZero() && event.Timestamp.Before(from) {
		return false
	}
	if event.Timestamp.After(to) {
		return false
	}
	return true
}
