package presets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/railsync/railsync/config"
)

func init() {
	register("standalone", standalone())
}

// standalone runs every subsystem on one machine against a scratch data
// directory.
func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.Preset = "standalone"

	conf.Store.Dir = filepath.Join(os.TempDir(), "railsync")
	conf.Store.CrossProcessLock = true

	conf.Router.Listen = "127.0.0.1:7480"
	conf.Router.RequestsPerSecond = 0
	conf.Client.URL = "http://127.0.0.1:7480"
	conf.Client.ProbePeriod = time.Second

	conf.Reconcile.Period = 250 * time.Millisecond

	conf.LOGGING.AppLoggerLevel = "debug"
	return conf
}
