package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types. A reset token presented where a session is expected is
// rejected, and vice versa.
const (
	TokenTypeSession       = "session"
	TokenTypePasswordReset = "password_reset"
)

// ErrInvalidToken covers malformed, mis-typed, tampered and expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the signed envelope carried by both token types.
type Claims struct {
	Username  string `json:"username,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Tokens issues and validates the HS256-signed envelopes.
type Tokens struct {
	secret         []byte
	sessionExpiry  time.Duration
	rememberExpiry time.Duration
	resetExpiry    time.Duration
}

// NewTokens builds a token issuer around the process-wide secret.
func NewTokens(secret string, sessionExpiry, rememberExpiry, resetExpiry time.Duration) *Tokens {
	return &Tokens{
		secret:         []byte(secret),
		sessionExpiry:  sessionExpiry,
		rememberExpiry: rememberExpiry,
		resetExpiry:    resetExpiry,
	}
}

// IssueSession creates a session token for the user. With remember the
// longer expiry applies.
func (t *Tokens) IssueSession(userID, username string, remember bool) (string, time.Time, error) {
	expiry := t.sessionExpiry
	if remember {
		expiry = t.rememberExpiry
	}
	return t.issue(userID, username, TokenTypeSession, expiry)
}

// IssueReset creates a short-lived password-reset token.
func (t *Tokens) IssueReset(userID, username string) (string, time.Time, error) {
	return t.issue(userID, username, TokenTypePasswordReset, t.resetExpiry)
}

func (t *Tokens) issue(userID, username, tokenType string, expiry time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(expiry)

	claims := Claims{
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateSession parses a session token and returns its claims.
func (t *Tokens) ValidateSession(token string) (*Claims, error) {
	return t.validate(token, TokenTypeSession)
}

// ValidateReset parses a password-reset token and returns its claims.
func (t *Tokens) ValidateReset(token string) (*Claims, error) {
	return t.validate(token, TokenTypePasswordReset)
}

func (t *Tokens) validate(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
