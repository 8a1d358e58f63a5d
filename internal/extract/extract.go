// Package extract implements the first pipeline stage: turning an uploaded
// source document into a single UTF-8 text artifact.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/layout"
)

// Extractor dispatches on file extension and writes the text artifact.
type Extractor struct {
	paths layout.Paths
	log   *slog.Logger

	// ocr runs OCR over a page image. Swapped in tests.
	ocr func(ctx context.Context, imagePath string) (string, error)
}

// New creates an Extractor.
func New(paths layout.Paths, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{paths: paths, log: log, ocr: tesseractOCR}
}

// Extract reads the source file and writes the extracted UTF-8 text to the
// book's text artifact path. The input file must still exist; a deleted
// book surfaces here as a failed completion.
func (e *Extractor) Extract(ctx context.Context, bookID, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("source file missing: %w", err)
	}

	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".txt":
		text, err = e.extractTXT(filePath)
	case ".pdf":
		text, err = e.extractPDF(ctx, filePath)
	case ".epub":
		text, err = e.extractEPUB(filePath)
	default:
		return fmt.Errorf("unsupported file extension %q", filepath.Ext(filePath))
	}
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("no text could be extracted from %s", filepath.Base(filePath))
	}

	out := e.paths.ExtractedText(bookID)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create text dir: %w", err)
	}
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write text artifact: %w", err)
	}

	e.log.Info("extracted text", "book_id", bookID, "chars", len(text))
	return nil
}

// Handler adapts the extractor to the worker loop and chains the segment
// stage on success.
type Handler struct {
	extractor *Extractor
	broker    *broker.Broker
}

// NewHandler creates the stage handler.
func NewHandler(e *Extractor, b *broker.Broker) *Handler {
	return &Handler{extractor: e, broker: b}
}

func (h *Handler) Name() string { return "extract" }

// Handle extracts one book and, on success, enqueues segmentation. The
// next stage is enqueued before the completion so the orchestrator's
// status update never races ahead of the handoff.
func (h *Handler) Handle(ctx context.Context, task broker.Task, _ *broker.Completion) error {
	if err := h.extractor.Extract(ctx, task.BookID, task.FilePath); err != nil {
		return err
	}

	next := broker.NewTask(task.BookID)
	next.UserID = task.UserID
	if err := h.broker.Push(ctx, broker.SegmentQueue, next); err != nil {
		return fmt.Errorf("enqueue segment task: %w", err)
	}
	return nil
}
