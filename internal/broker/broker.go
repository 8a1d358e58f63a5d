// Package broker is the durable-queue fabric between the gateway, the
// orchestrator and the stage workers: named Redis lists with atomic append
// and blocking FIFO reads.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue names. Stable wire contract; workers on both sides depend on them.
const (
	ExtractQueue   = "extract_queue"
	SegmentQueue   = "segment_queue"
	SynthQueue     = "synth_queue"
	TranscodeQueue = "transcode_queue"
	CleanupQueue   = "cleanup_queue"

	ExtractCompleted   = "extract_completed"
	SegmentCompleted   = "segment_completed"
	SynthCompleted     = "synth_completed"
	TranscodeCompleted = "transcode_completed"
)

// ErrEmpty is returned by Pop when the timeout elapses with no message.
var ErrEmpty = errors.New("queue empty")

// Broker wraps the Redis client. Safe for concurrent use.
type Broker struct {
	rdb *redis.Client
	log *slog.Logger
}

// Connect parses a Redis URL and opens a client.
func Connect(url string, log *slog.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broker{rdb: redis.NewClient(opts), log: log}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{rdb: rdb, log: log}
}

// Ping verifies broker connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error {
	return b.rdb.Close()
}

// Push appends a JSON payload to the left of the named list. Delivery is
// at-least-once; consumers must treat duplicates as idempotent.
func (b *Broker) Push(ctx context.Context, queue string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	if err := b.rdb.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest message on the named list and
// unmarshals it into out. Returns ErrEmpty on timeout; the timeout bounds
// only the wait, never in-flight work.
func (b *Broker) Pop(ctx context.Context, queue string, timeout time.Duration, out any) error {
	res, err := b.rdb.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrEmpty
		}
		return fmt.Errorf("pop from %s: %w", queue, err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return fmt.Errorf("pop from %s: unexpected reply of %d elements", queue, len(res))
	}
	if err := json.Unmarshal([]byte(res[1]), out); err != nil {
		return fmt.Errorf("decode %s payload: %w", queue, err)
	}
	return nil
}

// Depth returns the current length of the named list.
func (b *Broker) Depth(ctx context.Context, queue string) (int64, error) {
	return b.rdb.LLen(ctx, queue).Result()
}
