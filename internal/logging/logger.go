// Package logging provides the process-wide zerolog logger.
//
// Components log through the package-level helpers:
//
//	logging.Info().Str("collection", c).Msg("record cached")
//
// or through a component logger obtained from Component.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the global logger.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error, disabled.
	Level string `yaml:"level" json:"level" koanf:"level"`

	// Format is the output format: json or console.
	Format string `yaml:"format" json:"format" koanf:"format"`

	// Caller includes caller file and line number in logs.
	Caller bool `yaml:"caller" json:"caller" koanf:"caller"`

	// Timestamp enables timestamps in log output.
	Timestamp bool `yaml:"timestamp" json:"timestamp" koanf:"timestamp"`

	// File, when set, sends output to a rotated log file instead of stderr.
	File       string `yaml:"file,omitempty" json:"file,omitempty" koanf:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty" koanf:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty" koanf:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty" koanf:"max_age_days"`

	// Output overrides the destination writer. Used by tests.
	Output io.Writer `yaml:"-" json:"-" koanf:"-"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		Timestamp:  true,
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex

	// fileOut is the rotating writer opened by the last Init, if any.
	fileOut *lumberjack.Logger
)

func init() {
	initLogger(DefaultConfig())
}

// Init reconfigures the global logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}

	output := cfg.Output
	if output == nil && cfg.File != "" {
		fileOut = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		output = fileOut
	}
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(output)
	if cfg.Timestamp {
		l = l.With().Timestamp().Logger()
	}
	if cfg.Caller {
		l = l.With().Caller().Logger()
	}
	log = l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Component returns a child logger tagged with a component field.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}

// Err starts an error-level event carrying err, or info-level when err is nil.
func Err(err error) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Err(err)
}

// Close flushes and closes the log file opened by Init, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileOut == nil {
		return nil
	}
	err := fileOut.Close()
	fileOut = nil
	return err
}
