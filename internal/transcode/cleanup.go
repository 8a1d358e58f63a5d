package transcode

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/layout"
)

// Cleaner consumes the cleanup queue and removes the transcoder's per-book
// output tree. The gateway removes the text and wav trees eagerly at
// deletion time; the ogg tree is this worker's to clean. Cleanup tasks
// emit no completion.
type Cleaner struct {
	broker     *broker.Broker
	paths      layout.Paths
	popTimeout time.Duration
	log        *slog.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(b *broker.Broker, paths layout.Paths, popTimeout time.Duration, log *slog.Logger) *Cleaner {
	if popTimeout <= 0 {
		popTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{broker: b, paths: paths, popTimeout: popTimeout, log: log.With("worker", "cleanup")}
}

// Run blocks until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	c.log.Info("cleanup worker starting", "queue", broker.CleanupQueue)
	for {
		if ctx.Err() != nil {
			c.log.Info("cleanup worker stopped")
			return
		}

		var task broker.Task
		err := c.broker.Pop(ctx, broker.CleanupQueue, c.popTimeout, &task)
		if err != nil {
			if errors.Is(err, broker.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			c.log.Error("cleanup pop failed", "error", err)
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
			}
			continue
		}

		if task.BookID == "" {
			continue
		}
		if err := c.paths.RemoveOggArtifacts(task.BookID); err != nil {
			c.log.Error("failed to remove ogg artifacts", "book_id", task.BookID, "error", err)
			continue
		}
		c.log.Info("removed ogg artifacts", "book_id", task.BookID)
	}
}
