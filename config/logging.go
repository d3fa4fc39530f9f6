package config

import (
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/railsync/railsync/log"
)

const defaultLoggingLevel = zapcore.InfoLevel

// LoggerConfig holds the logging level for each component and where logs go.
type LoggerConfig struct {
	Encoder string `mapstructure:"log-encoder"`
	// File, when set, receives a copy of every log line and is rotated by size.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max-backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max-age-days" validate:"min=0"`

	AppLoggerLevel       string `mapstructure:"app"`
	StoreLoggerLevel     string `mapstructure:"store"`
	RouterLoggerLevel    string `mapstructure:"router"`
	ReconcileLoggerLevel string `mapstructure:"reconcile"`
	ClientLoggerLevel    string `mapstructure:"client"`
	MetricsLoggerLevel   string `mapstructure:"metrics"`
}

func DefaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder:              log.ConsoleEncoder,
		MaxSizeMB:            10,
		MaxBackups:           3,
		MaxAgeDays:           7,
		AppLoggerLevel:       defaultLoggingLevel.String(),
		StoreLoggerLevel:     defaultLoggingLevel.String(),
		RouterLoggerLevel:    defaultLoggingLevel.String(),
		ReconcileLoggerLevel: defaultLoggingLevel.String(),
		ClientLoggerLevel:    defaultLoggingLevel.String(),
		MetricsLoggerLevel:   defaultLoggingLevel.String(),
	}
}

// levels maps component names to their configured level. Non-level settings
// are excluded.
func (l LoggerConfig) levels() map[string]string {
	var all map[string]any
	if err := mapstructure.Decode(l, &all); err != nil {
		return nil
	}
	out := make(map[string]string, len(all))
	for name, v := range all {
		switch name {
		case "log-encoder", "file", "max-size-mb", "max-backups", "max-age-days":
			continue
		}
		if s, ok := v.(string); ok {
			out[name] = s
		}
	}
	return out
}

// Level returns the level configured for the named component. Unknown
// components get the app level.
func (l LoggerConfig) Level(name string) (zap.AtomicLevel, error) {
	levels := l.levels()
	lvl, ok := levels[name]
	if !ok {
		lvl = l.AppLoggerLevel
	}
	return parseLevel(lvl)
}

func parseLevel(s string) (zap.AtomicLevel, error) {
	if s == "" {
		return zap.NewAtomicLevelAt(defaultLoggingLevel), nil
	}
	return zap.ParseAtomicLevel(s)
}
