// Package segment implements the second pipeline stage: splitting extracted
// text into sentence-aligned chunks bounded by a character budget, with
// prosody markup for the synthesizer.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sentencizer/sentencizer"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/layout"
)

// Chunk is one speech-ready unit of text. Seq is assigned in document
// order starting at 0.
type Chunk struct {
	Seq       int    `json:"seq"`
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
	SSMLPath  string `json:"ssml_path"`
}

// Segmenter splits text into bounded chunks and writes the per-chunk
// artifacts.
type Segmenter struct {
	paths     layout.Paths
	maxChars  int
	sentences sentencizer.Segmenter
	log       *slog.Logger
}

// New creates a Segmenter with the given character budget.
func New(paths layout.Paths, maxChars int, log *slog.Logger) *Segmenter {
	if maxChars <= 0 {
		maxChars = 800
	}
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{
		paths:     paths,
		maxChars:  maxChars,
		sentences: sentencizer.NewSegmenter("en"),
		log:       log,
	}
}

// Split breaks text into sentence groups whose joined length (including
// inter-sentence spaces) stays within the budget. A single sentence longer
// than the budget is kept whole in its own chunk.
func (s *Segmenter) Split(text string) [][]string {
	raw := s.sentences.Segment(text)
	sentences := make([]string, 0, len(raw))
	for _, sent := range raw {
		if sent = strings.TrimSpace(sent); sent != "" {
			sentences = append(sentences, sent)
		}
	}

	var (
		chunks  [][]string
		current []string
		size    int
	)
	for _, sent := range sentences {
		// Joined size if this sentence were appended.
		next := size + len(sent)
		if len(current) > 0 {
			next++ // joining space
		}
		if next > s.maxChars && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			next = len(sent)
		}
		current = append(current, sent)
		size = next
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// Segment loads a book's extracted text, splits it, and writes the SSML
// and metadata artifact pair for every chunk.
func (s *Segmenter) Segment(bookID string) ([]Chunk, error) {
	raw, err := os.ReadFile(s.paths.ExtractedText(bookID))
	if err != nil {
		return nil, fmt.Errorf("read extracted text: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, fmt.Errorf("extracted text is empty")
	}

	groups := s.Split(text)
	if len(groups) == 0 {
		return nil, fmt.Errorf("no sentences found in text")
	}

	dir := s.paths.ChunksDir(bookID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunks dir: %w", err)
	}

	chunks := make([]Chunk, 0, len(groups))
	for seq, sentences := range groups {
		chunkText := strings.Join(sentences, " ")
		ssmlPath := s.paths.SSMLFile(bookID, seq)

		if err := os.WriteFile(ssmlPath, []byte(BuildSSML(sentences)), 0o644); err != nil {
			return nil, fmt.Errorf("write ssml for chunk %d: %w", seq, err)
		}

		chunk := Chunk{
			Seq:       seq,
			Text:      chunkText,
			CharCount: len(chunkText),
			SSMLPath:  ssmlPath,
		}
		meta, err := json.MarshalIndent(chunk, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal chunk %d metadata: %w", seq, err)
		}
		if err := os.WriteFile(s.paths.ChunkMetaFile(bookID, seq), meta, 0o644); err != nil {
			return nil, fmt.Errorf("write metadata for chunk %d: %w", seq, err)
		}
		chunks = append(chunks, chunk)
	}

	s.log.Info("segmented text", "book_id", bookID, "chars", len(text), "chunks", len(chunks))
	return chunks, nil
}

// LoadChunks reads a book's chunk metadata back in seq order. The
// synthesizer consumes this.
func LoadChunks(paths layout.Paths, bookID string) ([]Chunk, error) {
	dir := paths.ChunksDir(bookID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read chunks dir: %w", err)
	}

	var chunks []Chunk
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read chunk metadata %s: %w", entry.Name(), err)
		}
		var c Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode chunk metadata %s: %w", entry.Name(), err)
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunk metadata found for book %s", bookID)
	}

	// Directory order is lexicographic and the zero padding only holds
	// three digits, so order by seq explicitly, then verify density.
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	for i, c := range chunks {
		if c.Seq != i {
			return nil, fmt.Errorf("chunk metadata not dense: want seq %d, got %d", i, c.Seq)
		}
	}
	return chunks, nil
}

// Handler adapts the segmenter to the worker loop and chains synthesis.
type Handler struct {
	segmenter *Segmenter
	broker    *broker.Broker
}

// NewHandler creates the stage handler.
func NewHandler(s *Segmenter, b *broker.Broker) *Handler {
	return &Handler{segmenter: s, broker: b}
}

func (h *Handler) Name() string { return "segment" }

// Handle segments one book and enqueues synthesis on success.
func (h *Handler) Handle(ctx context.Context, task broker.Task, _ *broker.Completion) error {
	if _, err := h.segmenter.Segment(task.BookID); err != nil {
		return err
	}

	next := broker.NewTask(task.BookID)
	next.UserID = task.UserID
	if err := h.broker.Push(ctx, broker.SynthQueue, next); err != nil {
		return fmt.Errorf("enqueue synth task: %w", err)
	}
	return nil
}
