// Package auth holds the authentication substrate: password policy and
// hashing, and the signed token envelopes used for sessions and password
// resets.
package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength and MaxPasswordLength bound accepted passwords.
	MinPasswordLength = 8
	MaxPasswordLength = 128

	bcryptCost = 12
)

var (
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`[0-9]`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
	// usernamePattern restricts usernames to a URL- and SQL-safe alphabet.
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)
)

// commonPasswords are rejected outright regardless of character classes.
var commonPasswords = map[string]struct{}{
	"password": {}, "123456": {}, "123456789": {}, "qwerty": {}, "abc123": {},
	"password123": {}, "admin": {}, "letmein": {}, "welcome": {}, "monkey": {},
	"dragon": {}, "login": {}, "master": {}, "hello": {}, "freedom": {},
}

// ValidatePassword checks the password policy and returns every violated
// rule, so clients can render the full list at once.
func ValidatePassword(password string) []string {
	var errs []string

	if len(password) < MinPasswordLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters long", MinPasswordLength))
	} else if len(password) > MaxPasswordLength {
		errs = append(errs, fmt.Sprintf("password must be no more than %d characters long", MaxPasswordLength))
	}

	if !upperPattern.MatchString(password) {
		errs = append(errs, "password must contain at least one uppercase letter")
	}
	if !lowerPattern.MatchString(password) {
		errs = append(errs, "password must contain at least one lowercase letter")
	}
	if !digitPattern.MatchString(password) {
		errs = append(errs, "password must contain at least one number")
	}
	if !specialPattern.MatchString(password) {
		errs = append(errs, `password must contain at least one special character (!@#$%^&*(),.?":{}|<>)`)
	}

	if _, common := commonPasswords[strings.ToLower(password)]; common {
		errs = append(errs, "password is too common - please choose a stronger password")
	}

	if hasLongRun(password, 3) {
		errs = append(errs, "password cannot contain more than 3 consecutive identical characters")
	}

	return errs
}

// hasLongRun reports whether any rune repeats more than limit times in a row.
func hasLongRun(s string, limit int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run > limit {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// ValidateUsername checks the username alphabet and length.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 3-50 characters of letters, digits, underscore or hyphen")
	}
	return nil
}

// emailPattern accepts the practical RFC 5322 subset.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks the email shape.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email address")
	}
	return nil
}

// HashPassword hashes with bcrypt at the configured cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plain matches the stored hash. A corrupt
// or foreign hash verifies false rather than erroring.
func VerifyPassword(plain, hash string) bool {
	if plain == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
