package store

import (
	"errors"

	"gorm.io/gorm"
)

// ChunkRecord is the registry's wire form of one transcoded chunk.
type ChunkRecord struct {
	Seq       int     `json:"seq"`
	DurationS float64 `json:"duration_s"`
	FilePath  string  `json:"file_path"`
	FileSize  int64   `json:"file_size"`
}

// ReplaceChunks atomically replaces all chunk rows for a book and updates
// the advisory total_chunks on the book row. The registry is the source of
// truth for chunk existence; re-registration always wins.
func (s *Store) ReplaceChunks(bookID string, chunks []ChunkRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var book Book
		if err := tx.First(&book, "id = ?", bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Where("book_id = ?", bookID).Delete(&AudioChunk{}).Error; err != nil {
			return err
		}

		for _, c := range chunks {
			row := AudioChunk{
				BookID:    bookID,
				Seq:       c.Seq,
				DurationS: c.DurationS,
				FilePath:  c.FilePath,
				FileSize:  c.FileSize,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		return tx.Model(&Book{}).Where("id = ?", bookID).
			Update("total_chunks", len(chunks)).Error
	})
}

// ListChunks returns a book's chunks in sequence order.
func (s *Store) ListChunks(bookID string) ([]AudioChunk, error) {
	var chunks []AudioChunk
	err := s.db.Where("book_id = ?", bookID).Order("seq").Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk returns one chunk by (book, seq).
func (s *Store) GetChunk(bookID string, seq int) (*AudioChunk, error) {
	var chunk AudioChunk
	err := s.db.First(&chunk, "book_id = ? AND seq = ?", bookID, seq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chunk, nil
}

// CountChunks returns the authoritative chunk count for a book.
func (s *Store) CountChunks(bookID string) (int64, error) {
	var count int64
	err := s.db.Model(&AudioChunk{}).Where("book_id = ?", bookID).Count(&count).Error
	return count, err
}

// DeleteChunks removes all chunk rows for a book.
func (s *Store) DeleteChunks(bookID string) error {
	return s.db.Where("book_id = ?", bookID).Delete(&AudioChunk{}).Error
}
