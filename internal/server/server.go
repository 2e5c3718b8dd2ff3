// ABOUTME: HTTP server wiring for gatekeep: routes, lifecycle, graceful shutdown.
// ABOUTME: Dispatch logic lives in api.go; this file owns construction and Run.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/config"
	"github.com/2389/gatekeep/internal/nlq"
	"github.com/2389/gatekeep/internal/ratelimit"
	"github.com/2389/gatekeep/internal/store"
	"github.com/2389/gatekeep/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// shutdownTimeout bounds how long Run waits for in-flight requests on exit.
const shutdownTimeout = 10 * time.Second

// Server is the request-handling orchestrator. It authenticates, throttles,
// resolves and validates tool calls, and shapes responses and errors.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	verifier   auth.TokenVerifier
	authn      *auth.Authenticator
	limiter    *ratelimit.Limiter
	registry   *tools.Registry
	translator *nlq.Translator
	mux        *http.ServeMux
}

// New wires a Server from its collaborators. The registry is expected to be
// fully populated; descriptors are static for the lifetime of the process.
func New(cfg *config.Config, logger *slog.Logger, st store.Store, verifier auth.TokenVerifier,
	limiter *ratelimit.Limiter, registry *tools.Registry, translator *nlq.Translator) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger.With("component", "server"),
		store:      st,
		verifier:   verifier,
		authn:      auth.NewAuthenticator(st),
		limiter:    limiter,
		registry:   registry,
		translator: translator,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/verify", s.handleVerify)
	s.mux.HandleFunc("/tools", s.handleListTools)
	s.mux.HandleFunc("/tools/call", s.handleCallTool)
}

// Handler returns the root HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
