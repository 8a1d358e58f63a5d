package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opusbook/opusbook/internal/store"
)

// apiError is the typed error every handler resolves to before writing a
// response. The body is always {"detail": "..."} and internals never leak.
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string { return e.detail }

func errValidation(detail string) *apiError {
	return &apiError{status: http.StatusUnprocessableEntity, detail: detail}
}

func errBadRequest(detail string) *apiError {
	return &apiError{status: http.StatusBadRequest, detail: detail}
}

func errUnauthenticated(detail string) *apiError {
	if detail == "" {
		detail = "Not authenticated"
	}
	return &apiError{status: http.StatusUnauthorized, detail: detail}
}

func errNotFound(detail string) *apiError {
	if detail == "" {
		detail = "Not found"
	}
	return &apiError{status: http.StatusNotFound, detail: detail}
}

func errConflict(detail string) *apiError {
	return &apiError{status: http.StatusBadRequest, detail: detail}
}

func errPayloadTooLarge(detail string) *apiError {
	return &apiError{status: http.StatusRequestEntityTooLarge, detail: detail}
}

func errRateLimited() *apiError {
	return &apiError{status: http.StatusTooManyRequests, detail: "Rate limit exceeded, try again later"}
}

func errInternal() *apiError {
	return &apiError{status: http.StatusInternalServerError, detail: "Internal server error"}
}

// respondError writes the error body. Unexpected errors are logged by the
// caller and collapse to a generic internal error.
func (s *Server) respondError(c *gin.Context, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		switch {
		case errors.Is(err, store.ErrNotFound):
			apiErr = errNotFound("")
		case errors.Is(err, store.ErrConflict):
			apiErr = errConflict("already exists")
		default:
			s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
			apiErr = errInternal()
		}
	}
	c.AbortWithStatusJSON(apiErr.status, gin.H{"detail": apiErr.detail})
}
