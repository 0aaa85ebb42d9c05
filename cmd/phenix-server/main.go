package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"phenix-chat/go-backend/internal/app"
	"phenix-chat/go-backend/internal/config"
	"phenix-chat/go-backend/internal/platform/logging"
	"phenix-chat/go-backend/internal/platform/metrics"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address override")
	skipSpawn := flag.String("anyone-skip-spawn", "", "Override ANYONE_SKIP_SPAWN: true | false")
	flag.Parse()
	if *showVersion {
		fmt.Printf("phenix-server version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}
	if *httpAddr != "" {
		_ = os.Setenv("PHENIX_HTTP_ADDR", *httpAddr)
	}
	if *skipSpawn != "" {
		_ = os.Setenv("ANYONE_SKIP_SPAWN", *skipSpawn)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "phenix-server: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{
		Service:     "phenix-server",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewServer(app.ServerOptions{
		Config:  cfg,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("phenix-server failed to initialize")
	}

	logger.Info().Str("version", version).Str("commit", commit).Msg("phenix-server starting")
	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("phenix-server failed")
	}
	logger.Info().Msg("phenix-server stopped")
}
