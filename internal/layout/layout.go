// Package layout centralizes the shared filesystem layout. Each worker
// writes only inside its own per-book subtree.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the three data roots.
type Paths struct {
	TextData string
	WavData  string
	OggData  string
}

// EnsureRoots creates the data roots if missing.
func (p Paths) EnsureRoots() error {
	for _, dir := range []string{p.TextData, p.WavData, p.OggData} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data root %s: %w", dir, err)
		}
	}
	return nil
}

// UploadDir is where the gateway stores a book's source file.
func (p Paths) UploadDir(bookID string) string {
	return filepath.Join(p.TextData, "uploads", bookID)
}

// UploadFile is the stored source file path.
func (p Paths) UploadFile(bookID, originalName string) string {
	return filepath.Join(p.UploadDir(bookID), filepath.Base(originalName))
}

// ExtractedText is the extractor's single UTF-8 artifact.
func (p Paths) ExtractedText(bookID string) string {
	return filepath.Join(p.TextData, bookID+".txt")
}

// ChunksDir holds the segmenter's per-chunk artifacts.
func (p Paths) ChunksDir(bookID string) string {
	return filepath.Join(p.TextData, bookID, "chunks")
}

// SSMLFile is one chunk's prosody markup.
func (p Paths) SSMLFile(bookID string, seq int) string {
	return filepath.Join(p.ChunksDir(bookID), fmt.Sprintf("chunk_%03d.ssml", seq))
}

// ChunkMetaFile is one chunk's metadata record.
func (p Paths) ChunkMetaFile(bookID string, seq int) string {
	return filepath.Join(p.ChunksDir(bookID), fmt.Sprintf("chunk_%03d.json", seq))
}

// WavDir holds the synthesizer's per-book output.
func (p Paths) WavDir(bookID string) string {
	return filepath.Join(p.WavData, bookID)
}

// WavFile is one segment's raw-audio artifact.
func (p Paths) WavFile(bookID string, seq int) string {
	return filepath.Join(p.WavDir(bookID), fmt.Sprintf("chunk_%03d.wav", seq))
}

// WavManifest is the synthesizer's per-book manifest.
func (p Paths) WavManifest(bookID string) string {
	return filepath.Join(p.WavDir(bookID), "metadata.json")
}

// OggDir holds the transcoder's per-book output.
func (p Paths) OggDir(bookID string) string {
	return filepath.Join(p.OggData, bookID)
}

// OggFile is one streaming chunk. Seq is the globally contiguous counter.
func (p Paths) OggFile(bookID string, seq int) string {
	return filepath.Join(p.OggDir(bookID), fmt.Sprintf("chunk_%06d.ogg", seq))
}

// OggManifest is the transcoder's local metadata backup.
func (p Paths) OggManifest(bookID string) string {
	return filepath.Join(p.OggDir(bookID), "metadata.json")
}

// RemoveTextArtifacts deletes the upload, extracted text and chunk trees.
func (p Paths) RemoveTextArtifacts(bookID string) error {
	var first error
	for _, path := range []string{
		p.UploadDir(bookID),
		p.ExtractedText(bookID),
		filepath.Join(p.TextData, bookID),
	} {
		if err := os.RemoveAll(path); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RemoveWavArtifacts deletes the synthesizer tree for a book.
func (p Paths) RemoveWavArtifacts(bookID string) error {
	return os.RemoveAll(p.WavDir(bookID))
}

// RemoveOggArtifacts deletes the transcoder tree for a book.
func (p Paths) RemoveOggArtifacts(bookID string) error {
	return os.RemoveAll(p.OggDir(bookID))
}
