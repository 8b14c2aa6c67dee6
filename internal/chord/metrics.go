package chord

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zde37/vdht/internal/metrics"
)

const subsystem = "chord"

var (
	advertisements = metrics.NewCounter(
		"advertisements",
		subsystem,
		"number of advertisements processed, by outcome",
		[]string{"result"},
	)
	advertImproved = advertisements.WithLabelValues("improved")
	advertIgnored  = advertisements.WithLabelValues("ignored")
	advertDropped  = advertisements.WithLabelValues("over_ceiling")

	exchanges = metrics.NewCounter(
		"exchanges",
		subsystem,
		"number of table exchanges between chain endpoints",
		[]string{},
	).WithLabelValues()

	evictions = metrics.NewCounter(
		"evictions",
		subsystem,
		"number of finger slots that switched to a better chain",
		[]string{},
	).WithLabelValues()

	convergeDuration = metrics.NewHistogramWithBuckets(
		"converge_seconds",
		subsystem,
		"time to reach the fixpoint",
		[]string{"mode"},
		prometheus.ExponentialBuckets(0.001, 2, 16),
	)

	routeLookups = metrics.NewCounter(
		"route_lookups",
		subsystem,
		"number of route lookups, by result",
		[]string{"result"},
	)
	routeFound   = routeLookups.WithLabelValues("found")
	routeMissing = routeLookups.WithLabelValues("no_path")
	routeCached  = routeLookups.WithLabelValues("cached")
)
