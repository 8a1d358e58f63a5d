package server

import (
	"github.com/opusbook/opusbook/internal/ratelimit"
)

func (s *Server) routes() {
	s.engine.Use(securityHeaders())
	s.engine.Use(s.corsMiddleware())

	s.engine.GET("/health", s.handleHealth)

	authGroup := s.engine.Group("/auth")
	{
		authGroup.POST("/register", s.rateLimit(ratelimit.Register), s.handleRegister)
		authGroup.POST("/login/email", s.rateLimit(ratelimit.Login), s.handleLoginEmail)
		authGroup.POST("/refresh", s.requireSession(), s.handleRefresh)
		authGroup.POST("/logout", s.requireSession(), s.handleLogout)
		authGroup.GET("/profile", s.requireSession(), s.handleGetProfile)
		authGroup.PUT("/profile", s.rateLimit(ratelimit.ProfileUpdate), s.requireSession(), s.handleUpdateProfile)
		authGroup.POST("/change-password", s.rateLimit(ratelimit.ChangePassword), s.requireSession(), s.handleChangePassword)
		authGroup.POST("/forgot-password", s.rateLimit(ratelimit.ForgotPassword), s.handleForgotPassword)
		authGroup.POST("/reset-password", s.rateLimit(ratelimit.ResetPassword), s.handleResetPassword)
	}

	api := s.engine.Group("/api/v1")
	{
		api.GET("/books", s.requireSession(), s.handleListBooks)
		api.POST("/books", s.requireSession(), s.handleSubmitBook)
		api.GET("/books/:id/status", s.requireSession(), s.handleBookStatus)
		api.DELETE("/books/:id", s.requireSession(), s.handleDeleteBook)

		api.GET("/books/:id/chunks", s.requireSession(), s.handleListChunks)
		api.POST("/books/:id/chunks/:seq/signed-url", s.requireSession(), s.handleSignedURL)
		api.POST("/books/:id/chunks/batch-signed-urls", s.requireSession(), s.handleBatchSignedURLs)

		// Chunk retrieval authenticates itself: signed URL, bearer header,
		// or token query parameter.
		api.GET("/books/:id/chunks/:seq", s.handleGetChunk)
	}
}
