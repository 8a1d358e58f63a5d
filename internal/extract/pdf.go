package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	pdfcpu "github.com/pdfcpu/pdfcpu/pkg/api"
)

// extractPDF pulls text page by page. A page that yields no text is
// usually a scan; its embedded images are extracted and OCRed instead.
func (e *Extractor) extractPDF(ctx context.Context, filePath string) (string, error) {
	if err := pdfcpu.ValidateFile(filePath, nil); err != nil {
		return "", fmt.Errorf("invalid PDF: %w", err)
	}

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text := pageText(page)
		if strings.TrimSpace(text) == "" {
			ocrText, ocrErr := e.ocrPage(ctx, filePath, pageNum)
			if ocrErr != nil {
				e.log.Warn("OCR fallback failed", "page", pageNum, "error", ocrErr)
				continue
			}
			text = ocrText
		}

		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("PDF contains no extractable text")
	}
	return strings.Join(parts, "\n\n"), nil
}

// pageText flattens a page's positioned text into reading order, inserting
// line breaks on Y changes.
func pageText(page pdf.Page) string {
	texts := page.Content().Text
	if len(texts) == 0 {
		return ""
	}

	var b strings.Builder
	lastY := texts[0].Y
	for _, t := range texts {
		if t.Y != lastY {
			b.WriteByte('\n')
			lastY = t.Y
		}
		b.WriteString(t.S)
	}
	return b.String()
}

// ocrPage extracts the page's embedded images and runs OCR over each.
// Scanned books embed one full-page image per page.
func (e *Extractor) ocrPage(ctx context.Context, filePath string, pageNum int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "opusbook-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create OCR temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pages := []string{strconv.Itoa(pageNum)}
	if err := pdfcpu.ExtractImagesFile(filePath, tmpDir, pages, nil); err != nil {
		return "", fmt.Errorf("extract page images: %w", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("page %d has no text and no images", pageNum)
	}

	var parts []string
	for _, entry := range entries {
		text, err := e.ocr(ctx, filepath.Join(tmpDir, entry.Name()))
		if err != nil {
			return "", err
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// tesseractOCR shells out to tesseract. Subprocess invocation keeps the
// CPU-heavy OCR off the queue-pop path, same as the transcoder's ffmpeg.
func tesseractOCR(ctx context.Context, imagePath string) (string, error) {
	bin, err := exec.LookPath("tesseract")
	if err != nil {
		return "", fmt.Errorf("tesseract not installed: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, imagePath, "stdout")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
