package boundary

import "github.com/railsync/railsync/metrics"

const subsystem = "boundary"

var (
	operations = metrics.NewCounter(
		"operations",
		subsystem,
		"number of authorized document operations",
		[]string{"role", "doc", "op"},
	)
	violations = metrics.NewCounter(
		"violations",
		subsystem,
		"number of rejected document operations",
		[]string{"role", "doc", "op"},
	)
	rateLimited = metrics.NewCounter(
		"rate_limited",
		subsystem,
		"number of requests rejected by the rate limiter",
		[]string{"role"},
	)
)
