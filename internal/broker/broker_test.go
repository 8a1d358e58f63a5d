package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewWithClient(rdb, nil)
}

func TestPushPopFIFO(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	for _, id := range []string{"book-1", "book-2", "book-3"} {
		task := NewTask(id)
		if err := b.Push(ctx, ExtractQueue, task); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	// FIFO: oldest push pops first.
	for _, want := range []string{"book-1", "book-2", "book-3"} {
		var task Task
		if err := b.Pop(ctx, ExtractQueue, time.Second, &task); err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if task.BookID != want {
			t.Errorf("popped %s, want %s", task.BookID, want)
		}
	}
}

func TestPopEmptyTimesOut(t *testing.T) {
	b := newTestBroker(t)

	var task Task
	err := b.Pop(context.Background(), SegmentQueue, 10*time.Millisecond, &task)
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("Pop() on empty queue = %v, want ErrEmpty", err)
	}
}

func TestCompletionRoundTrip(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	done := NewCompletion("book-1")
	done.Chunks = []ChunkInfo{{Seq: 0, DurationS: 3.14, FilePath: "/ogg/x.ogg", FileSize: 42}}
	done.TotalChunks = 1
	if err := b.Push(ctx, TranscodeCompleted, done); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	var got Completion
	if err := b.Pop(ctx, TranscodeCompleted, time.Second, &got); err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if !got.Success || got.BookID != "book-1" {
		t.Errorf("completion = %+v", got)
	}
	if len(got.Chunks) != 1 || got.Chunks[0].DurationS != 3.14 {
		t.Errorf("chunks = %+v", got.Chunks)
	}
}

func TestFailureTruncatesError(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	c := NewFailure("book-1", errors.New(string(long)))
	if c.Success {
		t.Error("failure marked success")
	}
	if len(c.Error) != maxErrorLen {
		t.Errorf("error length = %d, want %d", len(c.Error), maxErrorLen)
	}
}

func TestDepth(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	b.Push(ctx, SynthQueue, NewTask("a"))
	b.Push(ctx, SynthQueue, NewTask("b"))

	depth, err := b.Depth(ctx, SynthQueue)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}
}
