package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/layout"
	"github.com/opusbook/opusbook/internal/segment"
)

// ManifestEntry describes one WAV artifact in the per-book manifest the
// transcoder consumes.
type ManifestEntry struct {
	Seq        int     `json:"seq"`
	DurationS  float64 `json:"duration_s"`
	SampleRate int     `json:"sample_rate"`
	FilePath   string  `json:"file_path"`
	FileSize   int64   `json:"file_size"`
}

// Synthesizer renders every segment of a book through the engine. Segments
// within one book are processed strictly in order on a single goroutine;
// engine state is not safe to share across concurrent generations.
type Synthesizer struct {
	paths  layout.Paths
	engine Engine
	log    *slog.Logger
}

// New creates a Synthesizer.
func New(paths layout.Paths, engine Engine, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{paths: paths, engine: engine, log: log}
}

// Synthesize renders all segments of a book and writes the WAV manifest.
func (s *Synthesizer) Synthesize(ctx context.Context, bookID string) ([]ManifestEntry, error) {
	chunks, err := segment.LoadChunks(s.paths, bookID)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}

	if err := os.MkdirAll(s.paths.WavDir(bookID), 0o755); err != nil {
		return nil, fmt.Errorf("create wav dir: %w", err)
	}

	manifest := make([]ManifestEntry, 0, len(chunks))
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ssml := ""
		if data, err := os.ReadFile(chunk.SSMLPath); err == nil {
			ssml = string(data)
		}

		audio, err := s.engine.Synthesize(ctx, chunk.Text, ssml)
		if err != nil {
			return nil, fmt.Errorf("synthesize segment %d: %w", chunk.Seq, err)
		}

		info, err := ParseWAV(audio)
		if err != nil {
			return nil, fmt.Errorf("segment %d produced invalid audio: %w", chunk.Seq, err)
		}

		out := s.paths.WavFile(bookID, chunk.Seq)
		if err := os.WriteFile(out, audio, 0o644); err != nil {
			return nil, fmt.Errorf("write segment %d audio: %w", chunk.Seq, err)
		}

		manifest = append(manifest, ManifestEntry{
			Seq:        chunk.Seq,
			DurationS:  info.DurationS,
			SampleRate: info.SampleRate,
			FilePath:   out,
			FileSize:   int64(len(audio)),
		})
		s.log.Info("synthesized segment",
			"book_id", bookID, "seq", chunk.Seq,
			"duration_s", fmt.Sprintf("%.2f", info.DurationS))
	}

	if err := WriteManifest(s.paths, bookID, manifest); err != nil {
		return nil, err
	}
	s.log.Info("synthesis complete", "book_id", bookID, "segments", len(manifest))
	return manifest, nil
}

// WriteManifest stores the per-book WAV manifest.
func WriteManifest(paths layout.Paths, bookID string, entries []ManifestEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wav manifest: %w", err)
	}
	if err := os.WriteFile(paths.WavManifest(bookID), data, 0o644); err != nil {
		return fmt.Errorf("write wav manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the per-book WAV manifest back.
func LoadManifest(paths layout.Paths, bookID string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(paths.WavManifest(bookID))
	if err != nil {
		return nil, fmt.Errorf("read wav manifest: %w", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode wav manifest: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("wav manifest is empty")
	}
	return entries, nil
}

// Handler adapts the synthesizer to the worker loop and chains transcoding.
type Handler struct {
	synthesizer *Synthesizer
	broker      *broker.Broker
}

// NewHandler creates the stage handler.
func NewHandler(s *Synthesizer, b *broker.Broker) *Handler {
	return &Handler{synthesizer: s, broker: b}
}

func (h *Handler) Name() string { return "synth" }

// Handle synthesizes one book and enqueues transcoding on success.
func (h *Handler) Handle(ctx context.Context, task broker.Task, _ *broker.Completion) error {
	if _, err := h.synthesizer.Synthesize(ctx, task.BookID); err != nil {
		return err
	}

	next := broker.NewTask(task.BookID)
	next.UserID = task.UserID
	if err := h.broker.Push(ctx, broker.TranscodeQueue, next); err != nil {
		return fmt.Errorf("enqueue transcode task: %w", err)
	}
	return nil
}
