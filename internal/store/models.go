package store

import (
	"time"
)

// BookFormat is a supported source document format.
type BookFormat string

const (
	FormatPDF  BookFormat = "pdf"
	FormatEPUB BookFormat = "epub"
	FormatTXT  BookFormat = "txt"
)

// ValidFormat reports whether f is a supported source format.
func ValidFormat(f string) bool {
	switch BookFormat(f) {
	case FormatPDF, FormatEPUB, FormatTXT:
		return true
	}
	return false
}

// BookStatus is a stage in the processing state machine.
type BookStatus string

const (
	StatusPending         BookStatus = "pending"
	StatusExtracting      BookStatus = "extracting"
	StatusSegmenting      BookStatus = "segmenting"
	StatusGeneratingAudio BookStatus = "generating_audio"
	StatusTranscoding     BookStatus = "transcoding"
	StatusCompleted       BookStatus = "completed"
	StatusFailed          BookStatus = "failed"
)

// User is an account row. Users are deactivated, never hard-deleted.
type User struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	IsActive     bool   `gorm:"default:true"`
	IsVerified   bool   `gorm:"default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Book is a user-owned document traveling through the pipeline.
type Book struct {
	ID              string     `gorm:"primaryKey"`
	UserID          string     `gorm:"index;not null"`
	User            User       `gorm:"constraint:OnDelete:CASCADE"`
	Title           string     `gorm:"not null"`
	Format          BookFormat `gorm:"not null"`
	Status          BookStatus `gorm:"index;not null;default:'pending'"`
	PercentComplete float64    `gorm:"default:0"`
	ErrorMessage    string
	FilePath        string
	TotalChunks     int `gorm:"default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AudioChunk is one streamable Opus/Ogg segment of a completed book.
// (BookID, Seq) is unique; seqs are dense from 0 once a book completes.
type AudioChunk struct {
	ID        uint   `gorm:"primaryKey"`
	BookID    string `gorm:"uniqueIndex:idx_book_seq;index;not null"`
	Book      Book   `gorm:"constraint:OnDelete:CASCADE"`
	Seq       int    `gorm:"uniqueIndex:idx_book_seq;not null"`
	DurationS float64
	FilePath  string `gorm:"not null"`
	FileSize  int64
	CreatedAt time.Time
}
