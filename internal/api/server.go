// Package api is the HTTP surface of the phenix server: the Anyone session
// endpoints, the remote store API and avatar uploads.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const DefaultAddr = "127.0.0.1:8787"

type Server struct {
	httpServer      *http.Server
	logger          zerolog.Logger
	shutdownTimeout time.Duration
	onShutdown      func(ctx context.Context) error
}

type ServerOptions struct {
	Addr            string
	ShutdownTimeout time.Duration
	// OnShutdown runs after the listener has drained.
	OnShutdown func(ctx context.Context) error
	Logger     zerolog.Logger
}

func NewServer(handler http.Handler, opts ServerOptions) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
		onShutdown:      opts.OnShutdown,
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := s.stopServices(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = s.stopServices(shutdownCtx)
		return err
	}
}

func (s *Server) stopServices(ctx context.Context) error {
	if s.onShutdown == nil {
		return nil
	}
	return s.onShutdown(ctx)
}
