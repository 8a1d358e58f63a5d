package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/opusbook/opusbook/internal/ratelimit"
)

// securityHeaders sets the fixed header set on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		h.Set("Content-Security-Policy",
			"default-src 'self'; media-src 'self'; img-src 'self' data:; frame-ancestors 'none'")
		c.Next()
	}
}

// corsMiddleware builds the CORS layer from the configured allowlist.
// Credentials are disabled when the wildcard is present.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.cfg.CORSOriginList()
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}

	conf := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"ETag"},
		AllowCredentials: !wildcard,
		MaxAge:           12 * time.Hour,
	}
	if wildcard {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = origins
	}
	return cors.New(conf)
}

// rateLimit enforces one policy for a route, keyed by client IP.
func (s *Server) rateLimit(p ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(p, c.ClientIP()) {
			s.respondError(c, errRateLimited())
			return
		}
		c.Next()
	}
}

const ctxUserID = "user_id"

// requireSession authenticates via the Authorization header or, for media
// elements that cannot set headers, a token query parameter. The resolved
// user id lands in the request context.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			s.respondError(c, errUnauthenticated("Not authenticated"))
			return
		}

		user, err := s.userFromSession(token)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(ctxUserID, user.ID)
		c.Next()
	}
}

// userFromSession validates a session token and loads its active user.
func (s *Server) userFromSession(token string) (*userIdentity, error) {
	claims, err := s.tokens.ValidateSession(token)
	if err != nil {
		return nil, errUnauthenticated("Invalid or expired token")
	}
	user, err := s.store.GetUser(claims.Subject)
	if err != nil || !user.IsActive {
		return nil, errUnauthenticated("Invalid or expired token")
	}
	return &userIdentity{ID: user.ID, Username: user.Username}, nil
}

type userIdentity struct {
	ID       string
	Username string
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// currentUserID reads the authenticated user from the request context.
func currentUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
