package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zde37/vdht/internal/api"
	"github.com/zde37/vdht/internal/chord"
	"github.com/zde37/vdht/internal/config"
	"github.com/zde37/vdht/internal/network"
	"github.com/zde37/vdht/internal/snapshot"
	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

// routeSalt separates the route sampling stream from the key stream of the
// same seed.
const routeSalt = 0x726f757465

func newSimulateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "generate a network, converge its finger tables and verify routing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger, runID, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runSimulation(ctx, cfg, logger, runID, cmd.OutOrStdout())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func buildNetwork(cfg *config.Config) (*network.Network, error) {
	if cfg.Topology == config.TopologyComplete {
		space, err := ring.NewSpace(cfg.Bits)
		if err != nil {
			return nil, err
		}
		keys, err := network.RandomKeys(space, cfg.Nodes, network.NewRand(cfg.Seed))
		if err != nil {
			return nil, err
		}
		return network.Complete(space, keys)
	}
	return network.Random(cfg.Nodes, cfg.Degree, cfg.Bits, cfg.Seed)
}

// converge runs the configured convergence mode over fresh tables.
func converge(ctx context.Context, cfg *config.Config, net *network.Network, bc chord.Broadcaster, logger *pkg.Logger) ([]*chord.NodeFingers, chord.Stats, error) {
	chordCfg := &chord.Config{Seed: cfg.Seed, MaxHops: cfg.MaxHops}
	tables := chord.InitialTables(net, cfg.Seed)

	if cfg.Mode == config.ModeActor {
		rt, err := chord.NewRuntime(net, tables, chordCfg, logger)
		if err != nil {
			return nil, chord.Stats{}, err
		}
		if bc != nil {
			rt.SetBroadcaster(bc)
		}
		stats, err := rt.Run(ctx)
		return tables, stats, err
	}

	conv, err := chord.NewConverger(net, tables, chordCfg, logger)
	if err != nil {
		return nil, chord.Stats{}, err
	}
	if bc != nil {
		conv.SetBroadcaster(bc)
	}
	return tables, conv.Run(), nil
}

type routeSample struct {
	Samples   int
	Failed    int
	MaxLength int
	MeanHops  float64
}

// sampleRoutes routes between random node pairs and collects path statistics.
func sampleRoutes(router *chord.Router, net *network.Network, samples int, rng *rand.Rand) routeSample {
	rs := routeSample{Samples: samples}
	hops := 0
	for s := 0; s < samples; s++ {
		src := net.IndexToKey(rng.Intn(net.NodeCount()))
		dst := net.IndexToKey(rng.Intn(net.NodeCount()))
		route, err := router.Route(src, dst)
		if err != nil {
			rs.Failed++
			continue
		}
		rs.MaxLength = max(rs.MaxLength, route.Path.Length)
		hops += len(route.Hops) - 1
	}
	if ok := samples - rs.Failed; ok > 0 {
		rs.MeanHops = float64(hops) / float64(ok)
	}
	return rs
}

func runSimulation(ctx context.Context, cfg *config.Config, logger *pkg.Logger, runID string, out io.Writer) error {
	net, err := buildNetwork(cfg)
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}
	if !net.IsConnected() {
		return pkg.ErrNotConnected
	}
	logger.Info().
		Int("nodes", net.NodeCount()).
		Int("links", net.EdgeCount()).
		Int("bits", cfg.Bits).
		Str("topology", cfg.Topology).
		Msg("Network generated")

	var (
		srv *api.Server
		bc  chord.Broadcaster
	)
	if cfg.HTTPPort > 0 {
		hub := api.NewWebSocketHub(logger)
		hub.Start()
		defer hub.Stop()

		srv, err = api.NewServer(&api.Config{HTTPPort: cfg.HTTPPort}, hub, logger)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping HTTP server")
			}
		}()
		bc = hub
	}

	start := time.Now()
	tables, stats, err := converge(ctx, cfg, net, bc, logger)
	if err != nil {
		return fmt.Errorf("convergence failed: %w", err)
	}

	sum := &summary{
		RunID:    runID,
		Config:   cfg,
		Links:    net.EdgeCount(),
		Stats:    stats,
		Duration: time.Since(start),
	}

	sum.Optimality = chord.CheckGlobalOptimality(net, tables)
	if sum.Optimality != nil {
		logger.Warn().Err(sum.Optimality).Msg("Tables are not globally optimal")
	}

	router, err := chord.NewRouter(net, tables, cfg.CacheSize, logger)
	if err != nil {
		return err
	}
	sum.Routes = sampleRoutes(router, net, cfg.PathSamples, network.NewRand(cfg.Seed, routeSalt))

	if cfg.SnapshotPath != "" {
		s, err := snapshot.Capture(net, tables)
		if err != nil {
			return err
		}
		if err := snapshot.Save(cfg.SnapshotPath, s); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.SnapshotPath).Msg("Snapshot written")
	}

	printSummary(out, sum)

	// Runs with a hop ceiling are not expected to be optimal.
	if cfg.MaxHops == 0 {
		if sum.Optimality != nil {
			return sum.Optimality
		}
		if sum.Routes.Failed > 0 {
			return fmt.Errorf("%d of %d sampled routes failed: %w", sum.Routes.Failed, sum.Routes.Samples, pkg.ErrNoPath)
		}
	}

	if srv != nil {
		srv.SetRouter(router)
		logger.Info().Str("addr", srv.Addr().String()).Msg("Serving converged tables, press Ctrl+C to stop")
		<-ctx.Done()
		logger.Info().Msg("Received shutdown signal")
	}
	return nil
}
