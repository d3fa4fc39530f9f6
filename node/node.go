// Package node wires the railsync components into a process: the document
// service, the reconcilers and the operator commands.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/railsync/railsync/boundary"
	"github.com/railsync/railsync/cmd"
	"github.com/railsync/railsync/config"
	"github.com/railsync/railsync/config/presets"
	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/filesystem"
	"github.com/railsync/railsync/log"
	"github.com/railsync/railsync/metrics"
	"github.com/railsync/railsync/reconcile"
)

// Logger names.
const (
	AppLogger       = "app"
	StoreLogger     = "store"
	RouterLogger    = "router"
	ReconcileLogger = "reconcile"
	ClientLogger    = "client"
	MetricsLogger   = "metrics"
)

func GetCommand() *cobra.Command {
	conf := config.DefaultConfig()
	var configPath *string
	c := &cobra.Command{
		Use:   "railsync",
		Short: "Synchronize the documents shared by the railway suite",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the document service and the reconcilers",
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			logger, err := newLogger(&conf.LOGGING, os.Stdout)
			if err != nil {
				return err
			}
			defer logger.Sync()

			app := New(WithConfig(&conf), WithLog(logger))

			// os.Interrupt for all systems, syscall.SIGTERM is mainly for service managers.
			ctx, cancel := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := filesystem.ExistOrCreate(conf.Store.Dir); err != nil {
				return log.ErrEnsureDataDir(conf.Store.Dir, err)
			}
			if err := app.Lock(); err != nil {
				return err
			}
			defer app.Unlock()

			if err := app.Initialize(); err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			// Don't print usage on error from this point forward
			c.SilenceUsage = true

			// This blocks until the context is finished or until an error is produced
			err = app.Start(ctx)
			app.Cleanup()
			return err
		},
	}
	c.AddCommand(serveCmd)

	var once bool
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the reconcilers without the service",
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, *configPath, &conf); err != nil {
				return err
			}
			logger, err := newLogger(&conf.LOGGING, c.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()
			c.SilenceUsage = true
			return runReconcile(c, &conf, logger, once)
		},
	}
	reconcileCmd.Flags().BoolVar(&once, "once", false, "run every pair once, print the results and exit")
	c.AddCommand(reconcileCmd)

	for _, sub := range clientCommands(&conf, &configPath) {
		c.AddCommand(sub)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(c *cobra.Command, args []string) {
			fmt.Fprintln(c.OutOrStdout(), cmd.VersionInfo())
		},
	}
	c.AddCommand(versionCmd)

	configPath = cmd.AddFlags(c.PersistentFlags(), &conf)
	return c
}

func configure(c *cobra.Command, configPath string, conf *config.Config) error {
	preset := conf.Preset // might be set via CLI flag
	explicit := changedFlags(c.Flags())
	if err := loadConfig(conf, preset, configPath); err != nil {
		return log.ErrMalformedConfig(fmt.Errorf("loading config: %w", err))
	}
	// apply CLI args to config
	if err := explicit.apply(); err != nil {
		return log.ErrBadFlags(err)
	}
	conf.CanonicalizePaths()
	return conf.Validate(document.DefaultCatalog())
}

type flagValue struct {
	flag  *pflag.Flag
	value string
	slice []string
}

type flagValues []flagValue

// changedFlags remembers the flags set on the command line so they can be
// applied again on top of the preset and the config file.
func changedFlags(set *pflag.FlagSet) flagValues {
	var values flagValues
	set.Visit(func(f *pflag.Flag) {
		if f.Name == "preset" {
			return
		}
		fv := flagValue{flag: f, value: f.Value.String()}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			fv.slice = sv.GetSlice()
		}
		values = append(values, fv)
	})
	return values
}

func (values flagValues) apply() error {
	for _, fv := range values {
		if sv, ok := fv.flag.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(fv.slice); err != nil {
				return fmt.Errorf("flag %s: %w", fv.flag.Name, err)
			}
			continue
		}
		if err := fv.flag.Value.Set(fv.value); err != nil {
			return fmt.Errorf("flag %s: %w", fv.flag.Name, err)
		}
	}
	return nil
}

// loadConfig loads config and preset (if provided) into the provided config.
// It first loads the preset and then overrides it with values from the config file.
func loadConfig(cfg *config.Config, preset, path string) error {
	v := viper.New()
	// read in config from file
	if err := config.LoadConfig(path, v); err != nil {
		return err
	}

	// override default config with preset if provided
	if len(preset) == 0 && v.IsSet("main.preset") {
		preset = v.GetString("main.preset")
	}
	if len(preset) > 0 {
		p, err := presets.Get(preset)
		if err != nil {
			return err
		}
		*cfg = p
	}

	// Unmarshall config file into config struct
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)

	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		WithZeroFields(),
		WithIgnoreUntagged(),
		WithErrorUnused(),
	}

	// load config if it was loaded to the viper
	if err := v.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func WithZeroFields() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ZeroFields = true
	}
}

func WithIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

func WithErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}

// newLogger builds the root logger. It is created at debug level so that
// every component logger can be set to its configured level or above.
func newLogger(cfg *config.LoggerConfig, out io.Writer) (*zap.Logger, error) {
	encoder, err := log.Encoder(cfg.Encoder)
	if err != nil {
		return nil, log.ErrMalformedConfig(err)
	}
	writers := []io.Writer{out}
	if cfg.File != "" {
		if err := filesystem.ExistOrCreate(filepath.Dir(cfg.File)); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		writers = append(writers, log.RotatingFile(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays))
	}
	return log.NewWithLevel("railsync", zap.NewAtomicLevelAt(zap.DebugLevel), encoder, writers...), nil
}

// Option to modify an App instance.
type Option func(app *App)

// WithLog enables logger for an App.
func WithLog(logger *zap.Logger) Option {
	return func(app *App) {
		app.log = logger
	}
}

// WithConfig overwrites default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config:  &defaultConfig,
		log:     log.NewNop(),
		clock:   clockwork.NewRealClock(),
		catalog: document.DefaultCatalog(),
		started: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// App is the railsync service singleton.
type App struct {
	Config   *config.Config
	log      *zap.Logger
	clock    clockwork.Clock
	catalog  *document.Catalog
	fileLock *flock.Flock

	store   *docstore.Store
	service *boundary.Service
	router  *boundary.Router
	engine  *reconcile.Engine
	metrics *metrics.Server

	started chan struct{} // this channel is closed once the app has finished starting
}

// Started is closed once every component runs.
func (app *App) Started() <-chan struct{} {
	return app.started
}

// Lock locks the app for exclusive use. It returns an error if the app is already locked.
func (app *App) Lock() error {
	path := app.Config.LockFile()
	lockDir := filepath.Dir(path)
	if _, err := os.Stat(lockDir); errors.Is(err, fs.ErrNotExist) {
		if err := filesystem.ExistOrCreate(lockDir); err != nil {
			return fmt.Errorf("creating dir %s for lock %s: %w", lockDir, path, err)
		}
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", path, err)
	} else if !locked {
		return log.ErrInstanceLocked(fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the app. It is a no-op if the app is not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.log.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
}

func (app *App) addLogger(name string) *zap.Logger {
	lvl, err := app.Config.LOGGING.Level(name)
	if err != nil {
		app.log.Panic("unable to parse log level", zap.String("module", name), zap.Error(err))
	}
	return app.log.Named(name).WithOptions(zap.IncreaseLevel(lvl))
}

// Initialize creates the components. Nothing runs until Start.
func (app *App) Initialize() error {
	var err error
	app.store, err = docstore.New(app.Config.Store,
		docstore.WithLogger(app.addLogger(StoreLogger)),
		docstore.WithClock(app.clock),
	)
	if err != nil {
		return err
	}
	app.service, err = boundary.NewService(app.store,
		boundary.WithLogger(app.addLogger(RouterLogger)),
		boundary.WithCatalog(app.catalog),
	)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	app.router = boundary.NewRouter(app.Config.Router, app.service,
		boundary.WithRouterLogger(app.addLogger(RouterLogger)),
	)
	if app.Config.Reconcile.Enabled {
		app.engine, err = reconcile.New(app.store, app.Config.Reconcile,
			reconcile.WithLogger(app.addLogger(ReconcileLogger)),
			reconcile.WithCatalog(app.catalog),
		)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
	}
	if app.Config.Metrics.Enabled {
		app.metrics = metrics.NewServer(app.Config.Metrics.Listen, app.addLogger(MetricsLogger))
	}
	return nil
}

// Start runs every component until ctx is done or one of them fails.
func (app *App) Start(ctx context.Context) error {
	logger := app.addLogger(AppLogger)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return app.router.Start(ctx)
	})
	if app.engine != nil {
		app.engine.Start(ctx)
	}
	if app.metrics != nil {
		eg.Go(func() error {
			return app.metrics.Start(ctx)
		})
	}
	if app.Config.Metrics.URL != "" {
		instance, err := os.Hostname()
		if err != nil {
			instance = "railsync"
		}
		eg.Go(func() error {
			metrics.StartPushingMetrics(ctx, app.Config.Metrics.PushConfig, instance, app.addLogger(MetricsLogger), app.clock)
			return nil
		})
	}
	logger.Info("railsync started",
		zap.String("version", cmd.VersionInfo()),
		zap.String("data-dir", app.store.Dir()),
		zap.String("listen", app.Config.Router.Listen),
		zap.Bool("reconcile", app.engine != nil),
	)
	close(app.started)
	return eg.Wait()
}

// Cleanup stops the components that outlive Start.
func (app *App) Cleanup() {
	if app.engine != nil {
		app.engine.Close()
	}
	app.addLogger(AppLogger).Info("railsync stopped")
}

func runReconcile(c *cobra.Command, conf *config.Config, logger *zap.Logger, once bool) error {
	app := New(WithConfig(conf), WithLog(logger))
	store, err := docstore.New(conf.Store, docstore.WithLogger(app.addLogger(StoreLogger)))
	if err != nil {
		return err
	}
	engine, err := reconcile.New(store, conf.Reconcile,
		reconcile.WithLogger(app.addLogger(ReconcileLogger)),
		reconcile.WithCatalog(app.catalog),
	)
	if err != nil {
		return err
	}
	if !once {
		ctx, cancel := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		engine.Start(ctx)
		<-ctx.Done()
		engine.Close()
		return nil
	}

	results, err := engine.ReconcileAll(c.Context())
	for _, p := range conf.Reconcile.Pairs {
		res, ok := results[p.Name]
		if !ok {
			continue
		}
		fmt.Fprintf(c.OutOrStdout(), "%s: created=%d repaired=%d copied=%d preserved=%d malformed=%d written=%t\n",
			p.Name, len(res.Created), len(res.Repaired), res.Copied, len(res.Preserved), len(res.Malformed), res.Written)
	}
	return err
}
