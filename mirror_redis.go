package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/redis/go-redis/v9"
)

// Default Redis Stream key for mirrored events.
const defaultMirrorStream = "kernel:events"

// RedisMirrorConfig configures the Redis Stream mirror sink.
type RedisMirrorConfig struct {
	// URL is the Redis connection URL, e.g. "redis://localhost:6379/0".
	URL string `yaml:"url" env:"MIRROR_REDIS_URL"`

	// Stream is the stream key events are appended to. Defaults to
	// "kernel:events".
	Stream string `yaml:"stream" env:"MIRROR_REDIS_STREAM" default:"kernel:events"`

	// MaxLen caps the stream length (approximate trimming). Zero means
	// unbounded.
	MaxLen int64 `yaml:"maxLen" env:"MIRROR_REDIS_MAXLEN"`
}

// RedisMirror mirrors events to a Redis Stream via XADD and replays ranges
// with XRANGE. Stream entry IDs are derived by Redis from arrival time;
// the CloudEvents envelope inside each entry preserves the publish
// timestamp used for replay filtering.
type RedisMirror struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisMirror connects to Redis and returns a stream-backed mirror
// sink. The connection is verified with a ping so a misconfigured sink
// surfaces at attach time rather than on first publish.
func NewRedisMirror(ctx context.Context, config RedisMirrorConfig) (*RedisMirror, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis mirror URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis mirror: %w", err)
	}
	stream := config.Stream
	if stream == "" {
		stream = defaultMirrorStream
	}
	return &RedisMirror{client: client, stream: stream, maxLen: config.MaxLen}, nil
}

// Append writes one event as a stream entry holding its CloudEvents
// envelope.
func (m *RedisMirror) Append(ctx context.Context, event Event) error {
	ce, err := toCloudEvent(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("encoding mirrored event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]any{"event": string(data)},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	if err := m.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("appending to redis stream %s: %w", m.stream, err)
	}
	return nil
}

// Replay reads the stream range bounded by the publish-time window and
// returns entries whose channel matches the pattern. Entries that cannot
// be decoded are skipped.
func (m *RedisMirror) Replay(ctx context.Context, pattern string, from, to time.Time) ([]Event, error) {
	if pattern != "" {
		if err := ValidatePattern(pattern); err != nil {
			return nil, err
		}
	}
	if to.IsZero() {
		to = time.Now()
	}

	start := "-"
	if !from.IsZero() {
		start = fmt.Sprintf("%d-0", from.UnixMilli())
	}
	end := fmt.Sprintf("%d-18446744073709551615", to.UnixMilli())

	messages, err := m.client.XRange(ctx, m.stream, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("reading redis stream %s: %w", m.stream, err)
	}

	var events []Event
	for _, msg := range messages {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var ce cloudevents.Event
		if err := json.Unmarshal([]byte(raw), &ce); err != nil {
			continue
		}
		event := fromCloudEvent(ce)
		if !replayMatch(event, pattern, from, to) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("closing redis mirror: %w", err)
	}
	return nil
}
