package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/zde37/vdht/internal/chord"
	"github.com/zde37/vdht/internal/config"
)

type summary struct {
	RunID      string
	Config     *config.Config
	Links      int
	Stats      chord.Stats
	Duration   time.Duration
	Optimality error
	Routes     routeSample
}

func printSummary(w io.Writer, s *summary) {
	title := color.New(color.FgHiYellow, color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	title.Fprintf(w, "=======  vdht run %s\n", s.RunID)
	fmt.Fprintf(w, "network      %d nodes, %d links, %d-bit ring, %s\n",
		s.Config.Nodes, s.Links, s.Config.Bits, s.Config.Topology)
	fmt.Fprintf(w, "convergence  %s mode in %s\n", s.Config.Mode, s.Duration.Round(time.Microsecond))
	fmt.Fprintf(w, "messages     %d advertisements, %d exchanges, %d over the ceiling\n",
		s.Stats.Advertisements, s.Stats.Exchanges, s.Stats.Dropped)
	fmt.Fprintf(w, "tables       %d improvements, %d evictions\n", s.Stats.Improvements, s.Stats.Evictions)

	if s.Optimality == nil {
		good.Fprintln(w, "optimality   globally optimal")
	} else {
		bad.Fprintf(w, "optimality   %v\n", s.Optimality)
	}

	routes := good
	if s.Routes.Failed > 0 {
		routes = bad
	}
	routes.Fprintf(w, "routes       %d sampled, %d failed, max length %d, mean hops %.2f\n",
		s.Routes.Samples, s.Routes.Failed, s.Routes.MaxLength, s.Routes.MeanHops)

	if s.Config.SnapshotPath != "" {
		fmt.Fprintf(w, "snapshot     %s\n", s.Config.SnapshotPath)
	}
}
