// Package pipeline contains the orchestrator that drives a book through
// its stage transitions, and the stage-0 submission helper used by the
// gateway.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/store"
)

// Orchestrator consumes the four stage completion queues and updates book
// state. It never performs stage work itself; workers chain the stages,
// the orchestrator only projects their outcomes onto the metadata store.
type Orchestrator struct {
	store      *store.Store
	broker     *broker.Broker
	popTimeout time.Duration
	log        *slog.Logger
}

// New creates an Orchestrator.
func New(st *store.Store, b *broker.Broker, popTimeout time.Duration, log *slog.Logger) *Orchestrator {
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		broker:     b,
		popTimeout: popTimeout,
		log:        log.With("component", "orchestrator"),
	}
}

// Run blocks until ctx is cancelled, monitoring every completion queue.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info("orchestrator starting")

	var wg sync.WaitGroup
	for _, stage := range Stages {
		wg.Add(1)
		go func(stage Stage) {
			defer wg.Done()
			o.watch(ctx, stage)
		}(stage)
	}
	wg.Wait()
	o.log.Info("orchestrator stopped")
}

func (o *Orchestrator) watch(ctx context.Context, stage Stage) {
	queue := stage.completionQueue()
	for {
		if ctx.Err() != nil {
			return
		}

		var completion broker.Completion
		err := o.broker.Pop(ctx, queue, o.popTimeout, &completion)
		if err != nil {
			if errors.Is(err, broker.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			o.log.Error("completion pop failed", "queue", queue, "error", err)
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := o.apply(stage, completion); err != nil {
			o.log.Error("failed to apply completion",
				"stage", string(stage), "book_id", completion.BookID, "error", err)
		}
	}
}

// apply projects one completion onto the book row. Redelivered completions
// are no-ops, and completions for deleted books are dropped.
func (o *Orchestrator) apply(stage Stage, completion broker.Completion) error {
	book, err := o.store.GetBook(completion.BookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted mid-flight; the work is orphaned and ignored.
			o.log.Info("dropping completion for missing book",
				"stage", string(stage), "book_id", completion.BookID)
			return nil
		}
		return err
	}

	if !completion.Success {
		return o.fail(book, stage, completion.Error)
	}

	target := transitions[stage]
	if statusRank[book.Status] >= statusRank[target.status] {
		// At-least-once delivery: already applied.
		o.log.Debug("completion already applied",
			"stage", string(stage), "book_id", book.ID, "status", string(book.Status))
		return nil
	}

	percent := target.percent
	var totalChunks *int
	if stage == StageTranscode {
		// The transcoder registered the chunks itself; the row count here
		// is advisory and the registry stays authoritative.
		n := completion.TotalChunks
		if n == 0 {
			n = len(completion.Chunks)
		}
		totalChunks = &n
	}

	if err := o.store.UpdateBookStatus(book.ID, target.status, &percent, nil, totalChunks); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	o.log.Info("book advanced",
		"book_id", book.ID, "stage", string(stage),
		"status", string(target.status), "percent", percent)
	return nil
}

// fail marks a book terminally failed. Percent keeps its last milestone.
// Completed and already-failed books are terminal; a straggler failure
// envelope never moves them.
func (o *Orchestrator) fail(book *store.Book, stage Stage, message string) error {
	if statusRank[book.Status] >= statusRank[store.StatusCompleted] {
		return nil
	}
	if message == "" {
		message = fmt.Sprintf("%s stage failed", stage)
	}

	if err := o.store.UpdateBookStatus(book.ID, store.StatusFailed, nil, &message, nil); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	o.log.Warn("book failed",
		"book_id", book.ID, "stage", string(stage), "error", message)
	return nil
}

// Submit starts the pipeline for a freshly created book: marks it
// extracting and enqueues the extract task. The gateway calls this right
// after writing the book row and the upload file.
func Submit(ctx context.Context, st *store.Store, b *broker.Broker, bookID, filePath, userID string) error {
	task := broker.NewTask(bookID)
	task.FilePath = filePath
	task.UserID = userID
	if err := b.Push(ctx, broker.ExtractQueue, task); err != nil {
		return fmt.Errorf("enqueue extract task: %w", err)
	}

	percent := 0.0
	if err := st.UpdateBookStatus(bookID, store.StatusExtracting, &percent, nil, nil); err != nil {
		return fmt.Errorf("mark book extracting: %w", err)
	}
	return nil
}
