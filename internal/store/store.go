// Package store is the metadata layer: users, books, and the audio-chunk
// registry, backed by Postgres through gorm. It is the sole authority for
// book and chunk existence.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a row does not exist. Ownership mismatches
// surface as ErrNotFound too so that callers cannot distinguish the cases.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on uniqueness violations (username, email).
var ErrConflict = errors.New("already exists")

// Store wraps the gorm handle. Safe for concurrent use.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to Postgres and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing gorm handle. Used by tests with sqlite.
func NewWithDB(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Book{}, &AudioChunk{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
