package cmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/railsync/railsync/config"
	"github.com/railsync/railsync/config/presets"
)

// AddFlags adds railsync flags to the flag set and binds them to cfg. It
// returns the location of the config file, which is not part of cfg.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) (configPath *string) {
	configPath = flagSet.StringP("config", "c", "", "load configuration from file")

	/** ======================== BaseConfig Flags ========================== **/
	flagSet.StringVarP(&cfg.Preset, "preset", "p", cfg.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))
	flagSet.StringVar(&cfg.FileLock, "filelock", cfg.FileLock,
		"single instance lock file, defaults to railsync.lock in the data directory")
	flagSet.StringVar(&cfg.Role, "role", cfg.Role, "role of the caller for get, write and remove")
	flagSet.StringVar(&cfg.Unit, "unit", cfg.Unit, "unit controlled by the caller")

	/** ======================== Store Flags ========================== **/
	flagSet.StringVarP(&cfg.Store.Dir, "data-dir", "d", cfg.Store.Dir, "directory holding the documents")
	flagSet.IntVar(&cfg.Store.WriteAttempts, "write-attempts", cfg.Store.WriteAttempts,
		"attempts of a single write before giving up")
	flagSet.IntVar(&cfg.Store.ReadAttempts, "read-attempts", cfg.Store.ReadAttempts,
		"attempts of a single read before giving up")
	flagSet.DurationVar(&cfg.Store.BaseDelay, "base-delay", cfg.Store.BaseDelay,
		"delay before the first retry, doubled on every further retry")
	flagSet.BoolVar(&cfg.Store.CrossProcessLock, "cross-process-lock", cfg.Store.CrossProcessLock,
		"lock documents against other processes sharing the data directory")

	/** ======================== Router Flags ========================== **/
	flagSet.StringVar(&cfg.Router.Listen, "listen", cfg.Router.Listen, "address for the document service")
	flagSet.Float64Var(&cfg.Router.RequestsPerSecond, "requests-per-second", cfg.Router.RequestsPerSecond,
		"requests per second allowed for each role, 0 disables limiting")
	flagSet.IntVar(&cfg.Router.Burst, "burst", cfg.Router.Burst, "request burst allowed for each role")
	flagSet.StringSliceVar(&cfg.Router.AllowedOrigins, "allowed-origins", cfg.Router.AllowedOrigins,
		"origins allowed to call the service from a browser")

	/** ======================== Reconcile Flags ========================== **/
	flagSet.BoolVar(&cfg.Reconcile.Enabled, "reconcile", cfg.Reconcile.Enabled, "run the reconcilers with the service")
	flagSet.DurationVar(&cfg.Reconcile.Period, "reconcile-period", cfg.Reconcile.Period, "period of every reconciler")

	/** ======================== Client Flags ========================== **/
	flagSet.StringVar(&cfg.Client.URL, "url", cfg.Client.URL, "url of the document service")
	flagSet.DurationVar(&cfg.Client.Timeout, "timeout", cfg.Client.Timeout, "timeout of a single request")
	flagSet.IntVar(&cfg.Client.RetryMax, "retry-max", cfg.Client.RetryMax, "retries of a failed request")

	/** ======================== Metrics Flags ========================== **/
	flagSet.BoolVar(&cfg.Metrics.Enabled, "metrics", cfg.Metrics.Enabled, "serve metrics")
	flagSet.StringVar(&cfg.Metrics.Listen, "metrics-listen", cfg.Metrics.Listen, "address of the metrics server")
	flagSet.StringVar(&cfg.Metrics.URL, "metrics-push", cfg.Metrics.URL, "push metrics to url")
	flagSet.DurationVar(&cfg.Metrics.Period, "metrics-push-period", cfg.Metrics.Period, "push period")

	/** ======================== Logging Flags ========================== **/
	flagSet.StringVar(&cfg.LOGGING.Encoder, "log-encoder", cfg.LOGGING.Encoder, "console or json")
	flagSet.StringVar(&cfg.LOGGING.AppLoggerLevel, "log-level", cfg.LOGGING.AppLoggerLevel, "level of the app logger")
	flagSet.StringVar(&cfg.LOGGING.File, "log-file", cfg.LOGGING.File, "also write logs to this file")

	return configPath
}
