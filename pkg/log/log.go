package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from cfg. An empty cfg.Level
// defaults to InfoLevel; any other unrecognized value is rejected
// rather than silently coerced, matching buildBackend's fail-fast
// treatment of an unrecognized --backend flag rather than falling
// back to a default a typo'd flag would hide.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return nil
}

func parseLevel(l Level) (zerolog.Level, error) {
	switch l {
	case "", InfoLevel:
		return zerolog.InfoLevel, nil
	case DebugLevel:
		return zerolog.DebugLevel, nil
	case WarnLevel:
		return zerolog.WarnLevel, nil
	case ErrorLevel:
		return zerolog.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("log: unknown level %q (want debug, info, warn or error)", l)
	}
}

// WithWorkerID creates a child of the global Logger with a worker_id
// field. Called once, at startup, to build the base logger every
// other component logger descends from.
func WithWorkerID(workerID string) zerolog.Logger {
	return Logger.With().Str("worker_id", workerID).Logger()
}

// WithComponent derives a child of base with a component field, so a
// subsystem's log lines can be told apart from its siblings without
// losing the fields (worker_id, etc.) base already carries.
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// WithVmID derives a child of base with a vm_id field, for log lines
// scoped to one VM's lifecycle.
func WithVmID(base zerolog.Logger, vmID string) zerolog.Logger {
	return base.With().Str("vm_id", vmID).Logger()
}
