package store

import (
	"errors"
)

// AdminUserID is the fixed id of the startup-seeded administrator.
const AdminUserID = "00000000-0000-0000-0000-000000000001"

const (
	adminUsername = "admin"
	adminEmail    = "admin@example.com"
)

// SeedAdmin creates the administrator account if no user with the fixed
// admin id exists. The caller supplies the already-hashed password.
func (s *Store) SeedAdmin(passwordHash string) error {
	_, err := s.GetUser(AdminUserID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	admin := &User{
		ID:           AdminUserID,
		Username:     adminUsername,
		Email:        adminEmail,
		PasswordHash: passwordHash,
		IsActive:     true,
		IsVerified:   true,
	}
	if err := s.db.Create(admin).Error; err != nil {
		return err
	}
	s.log.Info("seeded administrator account", "username", adminUsername)
	return nil
}
