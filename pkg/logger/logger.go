package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger for CLI subcommands such as migrate.
func New() zerolog.Logger {
	return build(os.Stdout, zerolog.InfoLevel, true, false)
}

// NewWithConfig builds the service logger. JSON lines unless pretty is set.
func NewWithConfig(level string, pretty, noColor bool) zerolog.Logger {
	return build(os.Stdout, parseLevel(level), pretty, noColor)
}

func build(out io.Writer, level zerolog.Level, pretty, noColor bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
	}

	ctx := zerolog.New(out).With().Timestamp()
	// Caller только на debug, иначе шумно
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger().Level(level)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component tags every entry with the subsystem that produced it.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
