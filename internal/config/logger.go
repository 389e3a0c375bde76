package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
	Output io.Writer
}

// InitLogger initializes the global logger on stderr. Stdout is left for run
// summaries so they can be piped.
func InitLogger(level, format string) {
	SetupLogger(LoggerConfig{Level: level, Format: format, Output: os.Stderr})
}

// SetupLogger initializes the global logger from cfg
func SetupLogger(cfg LoggerConfig) {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	log.Debug().
		Str("level", logLevel.String()).
		Str("format", cfg.Format).
		Msg("Logger initialized")
}

// NewLogger creates a new logger with a component name
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewWorkerLogger creates a logger for one optimization worker
func NewWorkerLogger(worker, runID string) zerolog.Logger {
	return log.With().
		Str("component", "worker").
		Str("worker", worker).
		Str("run_id", runID).
		Logger()
}
