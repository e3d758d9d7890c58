package kernel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wildcard is the pattern token matching exactly one channel segment.
const Wildcard = "*"

// Event is a message routed through the event bus. Events are immutable
// once published; the bus delivers copies by value.
type Event struct {
	// ID uniquely identifies the event. Assigned at publish time.
	ID string `json:"id"`

	// Channel is the dot-segmented routing key, e.g. "perception.user_input".
	Channel string `json:"channel"`

	// Payload is the opaque structured value carried by the event.
	Payload any `json:"payload"`

	// Source names the publishing module. Advisory, kept for audit.
	Source string `json:"source,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler processes an event delivered to a subscription. Handlers for
// the same subscription observe events in publish order. An error (or
// panic) is caught and logged at the bus boundary and never affects other
// subscribers of the same event.
type EventHandler func(ctx context.Context, event Event) error

// Subscription is a live binding of a channel pattern to a handler.
type Subscription interface {
	// Pattern returns the channel pattern the subscription was created with.
	Pattern() string

	// ID returns the unique identifier of the subscription.
	ID() string

	// IsAsync reports whether matching events are handed to the bus worker
	// pool instead of the subscription's own delivery goroutine.
	IsAsync() bool

	// Cancel stops delivery. Idempotent.
	Cancel() error
}

// newEventID returns a UUIDv7 so event IDs sort by publish time, falling
// back to v4 when the clock source misbehaves.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateChannel checks that a channel name is non-empty, dot-segmented
// and free of wildcard tokens.
func ValidateChannel(channel string) error {
	if channel == "" {
		return ErrInvalidChannel
	}
	for _, seg := range strings.Split(channel, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidChannel, channel)
		}
		if seg == Wildcard {
			return fmt.Errorf("%w: wildcard not allowed in channel %q", ErrInvalidChannel, channel)
		}
	}
	return nil
}

// ValidatePattern checks that a subscription pattern is non-empty and
// dot-segmented. Each segment is a literal or the single-segment wildcard;
// the recursive "**" form is rejected.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern
	}
	for _, seg := range strings.Split(pattern, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		}
		if strings.Contains(seg, Wildcard) && seg != Wildcard {
			return fmt.Errorf("%w: segment %q in %q", ErrInvalidPattern, seg, pattern)
		}
	}
	return nil
}

// MatchChannel reports whether a channel matches a subscription pattern.
// Both are split on "."; a match requires equal segment counts with each
// pattern segment either literal-equal or the wildcard. "perception.*"
// matches "perception.user_input" but not "perception.a.b".
func MatchChannel(pattern, channel string) bool {
	ps := strings.Split(pattern, ".")
	cs := strings.Split(channel, ".")
	if len(ps) != len(cs) {
		return false
	}
	for i, seg := range ps {
		if seg != Wildcard && seg != cs[i] {
			return false
		}
	}
	return true
}
