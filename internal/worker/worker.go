// Package worker runs the stage loop shared by all pipeline workers:
// blocking pop from an input queue, handle, push a completion envelope,
// repeat. Timeouts bound only the pop; in-flight work is never cancelled.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opusbook/opusbook/internal/broker"
)

// Handler performs one stage's work for one book. A nil error means the
// stage succeeded and the runner emits a success completion; the handler
// may decorate that completion first via the returned function.
type Handler interface {
	// Name identifies the stage in logs.
	Name() string

	// Handle processes one task. On success it may mutate the completion
	// envelope (e.g. the transcoder attaches its chunk list).
	Handle(ctx context.Context, task broker.Task, completion *broker.Completion) error
}

// Runner consumes one input queue with a small pool of workers.
type Runner struct {
	broker     *broker.Broker
	handler    Handler
	inputQueue string
	doneQueue  string
	workers    int
	popTimeout time.Duration
	log        *slog.Logger
}

// Config for a Runner.
type Config struct {
	Broker     *broker.Broker
	Handler    Handler
	InputQueue string
	DoneQueue  string
	Workers    int
	PopTimeout time.Duration
	Logger     *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	popTimeout := cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		broker:     cfg.Broker,
		handler:    cfg.Handler,
		inputQueue: cfg.InputQueue,
		doneQueue:  cfg.DoneQueue,
		workers:    workers,
		popTimeout: popTimeout,
		log:        logger.With("worker", cfg.Handler.Name()),
	}
}

// Run blocks until ctx is cancelled. Each pool worker loops independently;
// distinct books may be processed in parallel, one task per worker at a
// time.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("worker starting", "queue", r.inputQueue, "pool", r.workers)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx)
		}()
	}
	wg.Wait()
	r.log.Info("worker stopped")
}

func (r *Runner) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		var task broker.Task
		err := r.broker.Pop(ctx, r.inputQueue, r.popTimeout, &task)
		if err != nil {
			if errors.Is(err, broker.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			r.log.Error("queue pop failed", "queue", r.inputQueue, "error", err)
			// Broker outage: back off rather than spin.
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		r.process(ctx, task)
	}
}

// process runs the handler and always pushes exactly one completion.
func (r *Runner) process(ctx context.Context, task broker.Task) {
	start := time.Now()
	r.log.Info("task started", "book_id", task.BookID)

	completion := broker.NewCompletion(task.BookID)
	err := r.handleSafe(ctx, task, &completion)
	if err != nil {
		completion = broker.NewFailure(task.BookID, err)
		r.log.Error("task failed", "book_id", task.BookID, "error", err)
	} else {
		r.log.Info("task completed", "book_id", task.BookID, "elapsed", time.Since(start))
	}

	// Use a fresh context so shutdown does not drop the completion.
	pushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.broker.Push(pushCtx, r.doneQueue, completion); err != nil {
		r.log.Error("failed to push completion", "book_id", task.BookID, "error", err)
	}
}

// handleSafe converts handler panics into failed completions; a worker
// must never die on one bad book.
func (r *Runner) handleSafe(ctx context.Context, task broker.Task, completion *broker.Completion) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.handler.Handle(ctx, task, completion)
}
