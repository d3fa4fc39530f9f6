package docstore

import (
	"github.com/railsync/railsync/metrics"
)

const subsystem = "store"

var (
	writes = metrics.NewCounter(
		"writes",
		subsystem,
		"number of committed document writes",
		[]string{"doc", "outcome"},
	)
	retries = metrics.NewCounter(
		"retries",
		subsystem,
		"number of retried store operations",
		[]string{"doc", "op"},
	)
	restorations = metrics.NewCounter(
		"restorations",
		subsystem,
		"number of documents restored from backup",
		[]string{"doc"},
	)
	corruptions = metrics.NewCounter(
		"corruptions",
		subsystem,
		"number of reads that found a document and its backup unusable",
		[]string{"doc"},
	)
	backupFailures = metrics.NewCounter(
		"backup_failures",
		subsystem,
		"number of failed backup refreshes",
		[]string{"doc"},
	)
	writeDuration = metrics.NewHistogramWithBuckets(
		"write_duration_seconds",
		subsystem,
		"duration of committed document writes",
		[]string{"doc"},
		metrics.DurationBuckets,
	)
)
