package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth reports the gateway's own health plus its dependencies:
// database, broker and the data roots.
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := s.store.Ping(); err != nil {
		checks["database"] = "unreachable"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := s.broker.Ping(c.Request.Context()); err != nil {
		checks["broker"] = "unreachable"
		healthy = false
	} else {
		checks["broker"] = "ok"
	}

	paths := gin.H{}
	for name, dir := range map[string]string{
		"text_data": s.paths.TextData,
		"wav_data":  s.paths.WavData,
		"ogg_data":  s.paths.OggData,
	} {
		if _, err := os.Stat(dir); err != nil {
			paths[name] = "missing"
			healthy = false
		} else {
			paths[name] = "ok"
		}
	}
	checks["paths"] = paths

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
