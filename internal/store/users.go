package store

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateUser inserts a new user row. Username and email are stored
// lowercased. Returns ErrConflict when either already exists.
func (s *Store) CreateUser(username, email, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(username),
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		IsActive:     true,
	}

	var count int64
	s.db.Model(&User{}).
		Where("username = ? OR email = ?", user.Username, user.Email).
		Count(&count)
	if count > 0 {
		return nil, ErrConflict
	}

	if err := s.db.Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return user, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(id string) (*User, error) {
	var user User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail returns a user by lowercased email.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	var user User
	err := s.db.First(&user, "email = ?", strings.ToLower(email)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername returns a user by lowercased username.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.First(&user, "username = ?", strings.ToLower(username)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser persists changed profile fields on an existing row.
func (s *Store) UpdateUser(user *User) error {
	user.Username = strings.ToLower(user.Username)
	user.Email = strings.ToLower(user.Email)

	var count int64
	s.db.Model(&User{}).
		Where("(username = ? OR email = ?) AND id <> ?", user.Username, user.Email, user.ID).
		Count(&count)
	if count > 0 {
		return ErrConflict
	}

	if err := s.db.Save(user).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// SetPasswordHash replaces a user's stored credential.
func (s *Store) SetPasswordHash(userID, hash string) error {
	res := s.db.Model(&User{}).Where("id = ?", userID).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateUser flips the active flag; rows are never hard-deleted.
func (s *Store) DeactivateUser(userID string) error {
	res := s.db.Model(&User{}).Where("id = ?", userID).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Postgres 23505 and sqlite UNIQUE messages both mention "unique".
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
