// Package server is the HTTP gateway: authentication, uploads, status,
// signed chunk URLs and audio streaming.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opusbook/opusbook/internal/auth"
	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/config"
	"github.com/opusbook/opusbook/internal/layout"
	"github.com/opusbook/opusbook/internal/ratelimit"
	"github.com/opusbook/opusbook/internal/signing"
	"github.com/opusbook/opusbook/internal/store"
)

// maxUploadBytes caps book uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// Server owns the gateway's collaborators. All handlers hang off it;
// nothing is package-global.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	broker  *broker.Broker
	tokens  *auth.Tokens
	signer  *signing.Signer
	limiter *ratelimit.Limiter
	paths   layout.Paths
	log     *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// New wires the gateway. The HMAC secret, store and broker handles are
// injected here at startup; rotation requires a restart.
func New(cfg *config.Config, st *store.Store, b *broker.Broker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	a := cfg.Auth()

	limiter := ratelimit.New()
	limiter.Disabled = cfg.Server.DisableRateLimits

	s := &Server{
		cfg:     cfg,
		store:   st,
		broker:  b,
		tokens:  auth.NewTokens(cfg.SecretKey, a.SessionExpiry, a.RememberExpiry, a.PasswordResetExpiry),
		signer:  signing.New(cfg.SecretKey),
		limiter: limiter,
		paths: layout.Paths{
			TextData: cfg.Paths.TextData,
			WavData:  cfg.Paths.WavData,
			OggData:  cfg.Paths.OggData,
		},
		log: log.With("component", "gateway"),
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()

	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// EnsureDataRoots creates the shared data directories if missing.
func (s *Server) EnsureDataRoots() error { return s.paths.EnsureRoots() }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.log.Info("gateway stopped")
	return nil
}
