// Package logging configures the process-wide zerolog logger.
//
// LOG_LEVEL selects the minimum level (trace, debug, info, warn, error) and
// LOG_TYPE selects the output: "text" (default, coloured on a terminal) or
// "json". Components log through zerolog.Ctx(ctx) so request scoped fields
// travel with the context.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options overrides the environment-driven defaults.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// OptionsFromEnv reads LOG_LEVEL and LOG_TYPE.
func OptionsFromEnv() Options {
	return Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_TYPE"),
	}
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
	default:
		return zerolog.InfoLevel
	}
}

// Configure installs the global logger and returns it.
func Configure(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	writer := out
	if !strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		noColor := true
		if f, ok := out.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		writer = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    noColor,
			TimeFormat: "15:04:05.000",
		}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	return logger
}

type testingT interface {
	Log(args ...any)
	Logf(format string, args ...any)
	Helper()
	Cleanup(func())
}

// ConfigureTestLogging routes log output through t.Log for the test's
// lifetime.
func ConfigureTestLogging(t testingT) {
	previous := log.Logger
	previousContext := zerolog.DefaultContextLogger
	logger := zerolog.New(zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(t))).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	t.Cleanup(func() {
		log.Logger = previous
		zerolog.DefaultContextLogger = previousContext
	})
}

// LeveledLogger adapts a zerolog logger to the key/value logging interface
// used by hashicorp/go-retryablehttp.
type LeveledLogger struct {
	Logger zerolog.Logger
}

func (l LeveledLogger) Error(msg string, keysAndValues ...any) {
	l.Logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Info(msg string, keysAndValues ...any) {
	l.Logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Debug(msg string, keysAndValues ...any) {
	l.Logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...any) {
	l.Logger.Warn().Fields(keysAndValues).Msg(msg)
}
