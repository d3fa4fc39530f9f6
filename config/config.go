// Package config contains the railsync process configuration: one section per
// component plus the process-wide base, logging and metrics settings.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/railsync/railsync/boundary"
	"github.com/railsync/railsync/client"
	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/filesystem"
	"github.com/railsync/railsync/log"
	"github.com/railsync/railsync/metrics"
	"github.com/railsync/railsync/reconcile"
)

const (
	defaultLockFile = "railsync.lock"
)

// Config defines the top level configuration for a railsync process.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Store      docstore.Config       `mapstructure:"store"`
	Router     boundary.RouterConfig `mapstructure:"router"`
	Reconcile  reconcile.Config      `mapstructure:"reconcile"`
	Client     client.Config         `mapstructure:"client"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
	LOGGING    LoggerConfig          `mapstructure:"logging"`
}

// BaseConfig defines settings shared by every command.
type BaseConfig struct {
	Preset string `mapstructure:"preset"`
	// FileLock is the single-instance lock taken by the service. Empty means
	// railsync.lock inside the data directory.
	FileLock string `mapstructure:"filelock"`

	// Role and Unit identify the caller of the client commands.
	Role string `mapstructure:"role"`
	Unit string `mapstructure:"unit"`
}

// MetricsConfig defines where metrics are exposed and pushed.
type MetricsConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Listen             string `mapstructure:"listen" validate:"required_if=Enabled true"`
	metrics.PushConfig `mapstructure:",squash"`
}

// DefaultConfig returns the default configuration for a railsync process.
func DefaultConfig() Config {
	return Config{
		BaseConfig: BaseConfig{},
		Store:      docstore.DefaultConfig(),
		Router:     boundary.DefaultRouterConfig(),
		Reconcile:  reconcile.DefaultConfig(),
		Client:     client.DefaultConfig(),
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:7481",
		},
		LOGGING: DefaultLoggingConfig(),
	}
}

// LockFile returns the path of the single-instance lock.
func (cfg *Config) LockFile() string {
	if cfg.FileLock != "" {
		return cfg.FileLock
	}
	return filepath.Join(cfg.Store.Dir, defaultLockFile)
}

// CanonicalizePaths expands ~ and environment variables in every configured
// path.
func (cfg *Config) CanonicalizePaths() {
	cfg.Store.Dir = filesystem.GetCanonicalPath(cfg.Store.Dir)
	cfg.FileLock = filesystem.GetCanonicalPath(cfg.FileLock)
	cfg.LOGGING.File = filesystem.GetCanonicalPath(cfg.LOGGING.File)
}

// Caller returns the caller configured for the client commands.
func (cfg *Config) Caller() (boundary.Caller, error) {
	role, err := boundary.ParseRole(cfg.Role)
	if err != nil {
		return boundary.Caller{}, err
	}
	caller := boundary.Caller{Role: role, Unit: cfg.Unit}
	if err := caller.Validate(); err != nil {
		return boundary.Caller{}, err
	}
	return caller, nil
}

// Validate checks every section with its struct tags and then the
// references between sections and the document catalog.
func (cfg *Config) Validate(catalog *document.Catalog) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return log.ErrMalformedConfig(verrs)
		}
		return log.ErrMalformedConfig(err)
	}
	if _, err := log.Encoder(cfg.LOGGING.Encoder); err != nil {
		return log.ErrMalformedConfig(err)
	}
	for name, level := range cfg.LOGGING.levels() {
		if _, err := parseLevel(level); err != nil {
			return log.ErrMalformedConfig(fmt.Errorf("logging.%s: %w", name, err))
		}
	}
	if cfg.Metrics.URL != "" && cfg.Metrics.Period <= 0 {
		return log.ErrMalformedConfig(errors.New("metrics.push-period must be positive when push-url is set"))
	}
	if err := cfg.Reconcile.Validate(catalog); err != nil {
		return log.ErrMalformedConfig(err)
	}
	return nil
}

// LoadConfig reads the config file into vip. An empty location loads nothing
// and leaves the defaults in place.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	if fileLocation == "" {
		return nil
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %w", err)
	}
	return nil
}
