package reconcile

import "github.com/railsync/railsync/metrics"

const subsystem = "reconcile"

var (
	passes = metrics.NewCounter(
		"passes",
		subsystem,
		"number of reconcile passes by outcome",
		[]string{"pair", "outcome"},
	)
	copied = metrics.NewCounter(
		"copied_fields",
		subsystem,
		"number of fields copied from source to target",
		[]string{"pair"},
	)
	preserved = metrics.NewCounter(
		"preserved_values",
		subsystem,
		"number of legacy values kept instead of defaults",
		[]string{"pair"},
	)
	malformed = metrics.NewCounter(
		"malformed_entities",
		subsystem,
		"number of malformed entities seen in targets",
		[]string{"pair"},
	)
	passDuration = metrics.NewHistogramWithBuckets(
		"pass_duration_seconds",
		subsystem,
		"duration of reconcile passes",
		[]string{"pair"},
		metrics.DurationBuckets,
	)
)
