package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/anyone"
	"phenix-chat/go-backend/internal/api"
	"phenix-chat/go-backend/internal/config"
	"phenix-chat/go-backend/internal/platform/metrics"
	"phenix-chat/go-backend/internal/platform/ratelimiter"
	"phenix-chat/go-backend/internal/remotestore/sqlstore"
	"phenix-chat/go-backend/internal/storage"
)

type ServerOptions struct {
	Config   config.Config
	Launcher anyone.Launcher
	Dial     anyone.ControlDialer
	Metrics  *metrics.Registry
	Logger   zerolog.Logger
}

// Server holds the server-side singletons and the HTTP surface over them.
type Server struct {
	Anyone  *anyone.Manager
	Store   *sqlstore.Store
	Uploads *storage.Uploads
	Handler http.Handler

	http   *api.Server
	logger zerolog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	cfg := opts.Config
	logger := opts.Logger

	secret := cfg.Server.URLSigningSecret
	if secret == "" {
		generated, err := randomSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		logger.Warn().Msg("PHENIX_URL_SIGNING_SECRET unset, signed blob urls will not survive a restart")
	}

	blobs, err := storage.NewBlobStore(cfg.Server.BlobDir, storage.BlobOptions{
		Passphrase:   cfg.Server.BlobPassphrase,
		MaxItemBytes: int64(cfg.Server.MaxUploadBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	uploads, err := storage.NewUploads(blobs, storage.UploadOptions{BaseURL: cfg.Server.PublicBaseURL, Secret: secret})
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(cfg.Server.DatabasePath, sqlstore.Options{Uploads: uploads})
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}

	mgr := anyone.NewManager(anyone.Options{
		Config:   cfg.AnyoneConfig(),
		Launcher: opts.Launcher,
		Dial:     opts.Dial,
		Metrics:  opts.Metrics,
		Logger:   logger,
	})

	var limiter *ratelimiter.KeyLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = ratelimiter.New(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute)
	}
	handler := api.NewRouter(api.Deps{
		Anyone:  mgr,
		Store:   store,
		Uploads: uploads,
		Limiter: limiter,
		Metrics: opts.Metrics,
		Logger:  logger,
	})

	s := &Server{
		Anyone:  mgr,
		Store:   store,
		Uploads: uploads,
		Handler: handler,
		logger:  logger,
	}
	s.http = api.NewServer(handler, api.ServerOptions{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnShutdown:      s.shutdown,
		Logger:          logger,
	})
	return s, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Run serves HTTP until ctx ends, then releases the Anyone session and the store.
func (s *Server) Run(ctx context.Context) error {
	return s.http.Run(ctx)
}

func (s *Server) shutdown(ctx context.Context) error {
	err := s.Anyone.Disconnect(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("anyone disconnect on shutdown failed")
	}
	return errors.Join(err, s.Store.Close())
}

// Close releases resources without running the HTTP server.
func (s *Server) Close() error {
	return s.shutdown(context.Background())
}
