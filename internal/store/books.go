package store

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultPageSize bounds book listings when no limit is given.
	DefaultPageSize = 50
	// MaxPageSize caps a caller-supplied limit.
	MaxPageSize = 100
)

// CreateBook inserts a pending book row for the given owner.
func (s *Store) CreateBook(userID, title string, format BookFormat, filePath string) (*Book, error) {
	book := &Book{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    title,
		Format:   format,
		Status:   StatusPending,
		FilePath: filePath,
	}
	if err := s.db.Create(book).Error; err != nil {
		return nil, err
	}
	return book, nil
}

// GetBook returns a book by id regardless of owner. Orchestrator use only;
// the gateway goes through GetBookForUser.
func (s *Store) GetBook(id string) (*Book, error) {
	var book Book
	if err := s.db.First(&book, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &book, nil
}

// GetBookForUser returns a book only when it is owned by userID. A book
// owned by someone else is reported as ErrNotFound, not as forbidden.
func (s *Store) GetBookForUser(id, userID string) (*Book, error) {
	var book Book
	err := s.db.First(&book, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &book, nil
}

// ListBooks returns the user's books newest first with the total count.
func (s *Store) ListBooks(userID string, limit, offset int) ([]Book, int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.Model(&Book{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var books []Book
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&books).Error
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// SetBookFilePath records where the uploaded source file landed.
func (s *Store) SetBookFilePath(id, path string) error {
	res := s.db.Model(&Book{}).Where("id = ?", id).Update("file_path", path)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBookStatus applies a stage transition. Nil fields are left as-is.
func (s *Store) UpdateBookStatus(id string, status BookStatus, percent *float64, errorMessage *string, totalChunks *int) error {
	updates := map[string]any{"status": status}
	if percent != nil {
		updates["percent_complete"] = *percent
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	if totalChunks != nil {
		updates["total_chunks"] = *totalChunks
	}

	res := s.db.Model(&Book{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBook removes the book row and cascades to its chunks.
func (s *Store) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_id = ?", id).Delete(&AudioChunk{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Book{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ValidateBookID rejects ids that are not UUIDs before they reach SQL or
// filesystem paths.
func ValidateBookID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid book id")
	}
	return nil
}
