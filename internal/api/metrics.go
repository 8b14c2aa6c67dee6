package api

import "github.com/zde37/vdht/internal/metrics"

const subsystem = "api"

var (
	wsClients = metrics.NewGauge(
		"websocket_clients",
		subsystem,
		"number of connected websocket clients",
		[]string{},
	).WithLabelValues()

	wsDropped = metrics.NewCounter(
		"websocket_dropped_events",
		subsystem,
		"number of finger events dropped because the hub fell behind",
		[]string{},
	).WithLabelValues()
)
