// Package transcode implements the final pipeline stage: slicing each WAV
// artifact into fixed-duration Opus/Ogg streaming chunks and registering
// them with the audio-chunk registry.
package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/layout"
	"github.com/opusbook/opusbook/internal/store"
	"github.com/opusbook/opusbook/internal/synth"
)

// durationEpsilon is the slicing tolerance in seconds; remainders below it
// are noise from float accumulation, not audio.
const durationEpsilon = 1e-6

// Transcoder converts a book's WAV manifest into streaming chunks.
type Transcoder struct {
	paths           layout.Paths
	store           *store.Store
	segmentDuration float64
	bitrate         string
	encode          EncodeFunc
	log             *slog.Logger
}

// New creates a Transcoder backed by ffmpeg.
func New(paths layout.Paths, st *store.Store, segmentDuration float64, bitrate string, log *slog.Logger) *Transcoder {
	if segmentDuration <= 0 {
		segmentDuration = 3.14
	}
	if bitrate == "" {
		bitrate = "32k"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transcoder{
		paths:           paths,
		store:           st,
		segmentDuration: segmentDuration,
		bitrate:         bitrate,
		encode:          ffmpegEncode,
		log:             log,
	}
}

// Transcode slices every source WAV of the book into SEGMENT_DURATION
// pieces, the last piece carrying any positive remainder. Chunk sequence
// numbers are a single counter across all source WAVs, so the book's
// chunks are contiguous from 0. Any encoding failure fails the whole book;
// already-written outputs stay on disk for deletion-time cleanup.
func (t *Transcoder) Transcode(ctx context.Context, bookID string) ([]broker.ChunkInfo, error) {
	manifest, err := synth.LoadManifest(t.paths, bookID)
	if err != nil {
		return nil, err
	}
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Seq < manifest[j].Seq })

	if err := os.MkdirAll(t.paths.OggDir(bookID), 0o755); err != nil {
		return nil, fmt.Errorf("create ogg dir: %w", err)
	}

	var chunks []broker.ChunkInfo
	globalSeq := 0
	for _, wav := range manifest {
		duration := wav.DurationS
		if duration <= 0 {
			if duration, err = probeDuration(ctx, wav.FilePath); err != nil {
				return nil, fmt.Errorf("wav %d: %w", wav.Seq, err)
			}
		}

		// The epsilon absorbs float accumulation error when the duration is
		// an exact multiple of the segment duration; only a positive
		// remainder produces a final segment.
		for start := 0.0; start < duration-durationEpsilon; start += t.segmentDuration {
			segDur := t.segmentDuration
			if remaining := duration - start; remaining < segDur {
				segDur = remaining
			}

			out := t.paths.OggFile(bookID, globalSeq)
			if err := t.encode(ctx, wav.FilePath, start, segDur, t.bitrate, out); err != nil {
				return nil, fmt.Errorf("encode chunk %d of wav %d: %w", globalSeq, wav.Seq, err)
			}

			var size int64
			if fi, err := os.Stat(out); err == nil {
				size = fi.Size()
			}

			chunks = append(chunks, broker.ChunkInfo{
				Seq:       globalSeq,
				DurationS: segDur,
				FilePath:  out,
				FileSize:  size,
			})
			globalSeq++
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks produced for book %s", bookID)
	}

	if err := t.register(bookID, chunks); err != nil {
		return nil, err
	}
	if err := t.writeLocalManifest(bookID, chunks); err != nil {
		// The registry already has the chunks; the local file is a backup.
		t.log.Warn("failed to write local chunk manifest", "book_id", bookID, "error", err)
	}

	t.log.Info("transcoded book", "book_id", bookID, "source_wavs", len(manifest), "chunks", len(chunks))
	return chunks, nil
}

// register replaces the book's registry entries. Retried because the
// metadata store may be briefly unreachable while the encode outputs are
// already final.
func (t *Transcoder) register(bookID string, chunks []broker.ChunkInfo) error {
	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			Seq:       c.Seq,
			DurationS: c.DurationS,
			FilePath:  c.FilePath,
			FileSize:  c.FileSize,
		}
	}

	err := retry.Do(
		func() error { return t.store.ReplaceChunks(bookID, records) },
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.RetryIf(func(err error) bool { return !isTerminal(err) }),
	)
	if err != nil {
		return fmt.Errorf("register chunks: %w", err)
	}
	return nil
}

// isTerminal reports registry errors that retrying cannot fix, such as the
// book having been deleted mid-flight.
func isTerminal(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (t *Transcoder) writeLocalManifest(bookID string, chunks []broker.ChunkInfo) error {
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.paths.OggManifest(bookID), data, 0o644)
}

// Handler adapts the transcoder to the worker loop. The completion carries
// the chunk list so the orchestrator can finish the book without touching
// the filesystem.
type Handler struct {
	transcoder *Transcoder
}

// NewHandler creates the stage handler.
func NewHandler(t *Transcoder) *Handler {
	return &Handler{transcoder: t}
}

func (h *Handler) Name() string { return "transcode" }

// Handle transcodes one book and attaches the chunk list to the completion.
func (h *Handler) Handle(ctx context.Context, task broker.Task, completion *broker.Completion) error {
	chunks, err := h.transcoder.Transcode(ctx, task.BookID)
	if err != nil {
		return err
	}
	completion.Chunks = chunks
	completion.TotalChunks = len(chunks)
	return nil
}
