package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opusbook/opusbook/internal/auth"
	"github.com/opusbook/opusbook/internal/store"
)

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type profileResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func profileOf(u *store.User) profileResponse {
	return profileResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleRegister validates all fields before any side effect and creates
// the user. Username and email are stored lowercased.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}

	if err := auth.ValidateUsername(req.Username); err != nil {
		s.respondError(c, errValidation("username: "+err.Error()))
		return
	}
	if err := auth.ValidateEmail(req.Email); err != nil {
		s.respondError(c, errValidation("email: "+err.Error()))
		return
	}
	if problems := auth.ValidatePassword(req.Password); len(problems) > 0 {
		s.respondError(c, errValidation("password: "+strings.Join(problems, "; ")))
		return
	}
	if req.Password != req.ConfirmPassword {
		s.respondError(c, errValidation("confirm_password: passwords do not match"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	user, err := s.store.CreateUser(req.Username, req.Email, hash)
	if err != nil {
		if err == store.ErrConflict {
			s.respondError(c, errConflict("Username or email already exists"))
			return
		}
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, profileOf(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// handleLoginEmail issues a session token. Unknown email, bad password and
// deactivated account are indistinguishable to the caller.
func (s *Server) handleLoginEmail(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil || !user.IsActive || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(c, errUnauthenticated("Invalid email or password"))
		return
	}

	token, expiresAt, err := s.tokens.IssueSession(user.ID, user.Username, req.Remember)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionToken": token,
		"expiresAt":    expiresAt.UTC().Format(time.RFC3339),
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
		},
	})
}

// handleRefresh exchanges a valid session for a fresh one with a new
// expiry. The old token stays valid until its own expiry; there is no
// deny list.
func (s *Server) handleRefresh(c *gin.Context) {
	user, err := s.store.GetUser(currentUserID(c))
	if err != nil {
		s.respondError(c, errUnauthenticated(""))
		return
	}

	token, expiresAt, err := s.tokens.IssueSession(user.ID, user.Username, false)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionToken": token,
		"expiresAt":    expiresAt.UTC().Format(time.RFC3339),
	})
}

// handleLogout is advisory: tokens are not individually revocable, so this
// only confirms the client should discard its copy.
func (s *Server) handleLogout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"detail": "Logged out"})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	user, err := s.store.GetUser(currentUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileOf(user))
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}

	user, err := s.store.GetUser(currentUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}

	if req.Username != nil {
		if err := auth.ValidateUsername(*req.Username); err != nil {
			s.respondError(c, errValidation("username: "+err.Error()))
			return
		}
		user.Username = *req.Username
	}
	if req.Email != nil {
		if err := auth.ValidateEmail(*req.Email); err != nil {
			s.respondError(c, errValidation("email: "+err.Error()))
			return
		}
		user.Email = *req.Email
	}

	if err := s.store.UpdateUser(user); err != nil {
		if err == store.ErrConflict {
			s.respondError(c, errConflict("Username or email already exists"))
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileOf(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}

	user, err := s.store.GetUser(currentUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !auth.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		s.respondError(c, errUnauthenticated("Current password is incorrect"))
		return
	}
	if problems := auth.ValidatePassword(req.NewPassword); len(problems) > 0 {
		s.respondError(c, errValidation("new_password: "+strings.Join(problems, "; ")))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.SetPasswordHash(user.ID, hash); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Password changed"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword issues a reset token. The response is identical
// whether or not the email exists, to avoid an account oracle. Without a
// mail sender the token is returned in the body; a deployment would hook
// delivery here.
func (s *Server) handleForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}

	resp := gin.H{"detail": "If the account exists, a reset token has been issued"}

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil || !user.IsActive {
		c.JSON(http.StatusOK, resp)
		return
	}

	token, _, err := s.tokens.IssueReset(user.ID, user.Username)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp["reset_token"] = token
	c.JSON(http.StatusOK, resp)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handleResetPassword is the only endpoint that accepts a reset token;
// session tokens are rejected here.
func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}

	claims, err := s.tokens.ValidateReset(req.Token)
	if err != nil {
		s.respondError(c, errUnauthenticated("Invalid or expired reset token"))
		return
	}
	if problems := auth.ValidatePassword(req.NewPassword); len(problems) > 0 {
		s.respondError(c, errValidation("new_password: "+strings.Join(problems, "; ")))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.store.SetPasswordHash(claims.Subject, hash); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Password reset"})
}
