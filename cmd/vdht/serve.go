package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zde37/vdht/internal/api"
	"github.com/zde37/vdht/internal/chord"
	"github.com/zde37/vdht/internal/config"
	"github.com/zde37/vdht/internal/snapshot"
	"github.com/zde37/vdht/pkg"
)

func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the inspection API over a saved snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.SnapshotPath == "" {
				return fmt.Errorf("--snapshot is required")
			}
			logger, _, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, logger)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

// loadRouter restores a snapshot and indexes its tables for routing.
func loadRouter(path string, cacheSize int, logger *pkg.Logger) (*chord.Router, error) {
	s, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	net, err := s.Network()
	if err != nil {
		return nil, err
	}
	tables, err := s.Tables()
	if err != nil {
		return nil, err
	}

	if err := chord.CheckGlobalOptimality(net, tables); err != nil {
		logger.Warn().Err(err).Msg("Snapshot tables are not globally optimal")
	}
	logger.Info().
		Str("path", path).
		Int("nodes", net.NodeCount()).
		Int("links", net.EdgeCount()).
		Msg("Snapshot loaded")

	return chord.NewRouter(net, tables, cacheSize, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *pkg.Logger) error {
	router, err := loadRouter(cfg.SnapshotPath, cfg.CacheSize, logger)
	if err != nil {
		return err
	}

	hub := api.NewWebSocketHub(logger)
	hub.Start()
	defer hub.Stop()

	srv, err := api.NewServer(&api.Config{HTTPPort: cfg.ServePort()}, hub, logger)
	if err != nil {
		return err
	}
	srv.SetRouter(router)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")
	return srv.Stop()
}
