package presets

import (
	"time"

	"github.com/railsync/railsync/config"
	"github.com/railsync/railsync/log"
)

func init() {
	register("embedded", embedded())
}

// embedded targets controllers on single-board computers: slow SD cards,
// unreliable links to the service and logs that must not fill the disk.
func embedded() config.Config {
	conf := config.DefaultConfig()
	conf.Preset = "embedded"

	conf.Store.Dir = "/var/lib/railsync"
	conf.Store.CrossProcessLock = true
	conf.Store.WriteAttempts = 8
	conf.Store.BaseDelay = 100 * time.Millisecond

	conf.Client.Timeout = 2 * time.Second
	conf.Client.RetryMax = 2
	conf.Client.OfflineAfter = 2
	conf.Client.ProbePeriod = 10 * time.Second

	conf.Reconcile.Period = time.Second

	conf.LOGGING.Encoder = log.JSONEncoder
	conf.LOGGING.File = "/var/log/railsync/railsync.log"
	conf.LOGGING.MaxSizeMB = 5
	conf.LOGGING.MaxBackups = 2
	conf.LOGGING.MaxAgeDays = 3
	return conf
}
