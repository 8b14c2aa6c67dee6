package main

import (
	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/zde37/vdht/internal/config"
	"github.com/zde37/vdht/pkg"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vdht",
		Short:         "simulate a Chord-style virtual DHT over an arbitrary network",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, toml or json)")

	root.AddCommand(newSimulateCmd(&configPath), newServeCmd(&configPath))
	return root
}

// newLogger builds the run logger. Every line carries the run id so that
// logs of concurrent runs can be told apart.
func newLogger(cfg *config.Config) (*pkg.Logger, string, error) {
	runID := xid.New().String()

	lc := pkg.DefaultConfig()
	lc.Level = cfg.LogLevel
	lc.Format = cfg.LogFormat
	lc.Fields = pkg.Fields{"run_id": runID}

	logger, err := pkg.New(lc)
	if err != nil {
		return nil, "", err
	}
	return logger, runID, nil
}
