package client

import "github.com/railsync/railsync/metrics"

const subsystem = "client"

var (
	fallbacks = metrics.NewCounter(
		"fallbacks",
		subsystem,
		"number of calls served by the local store",
		[]string{"role", "doc", "op"},
	)
	clientState = metrics.NewGauge(
		"state",
		subsystem,
		"connectivity state of the client (1 probing, 2 connected, 3 degraded, 4 offline)",
		[]string{"role"},
	)
)
