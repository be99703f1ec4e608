// Package logging builds the process's zerolog logger: a colorized console
// writer, grounded on adred-codev-ws_poc's src/logger.go NewLogger, with
// the Loki-oriented JSON branch dropped since this process never runs
// behind that log pipeline — it only ever needs the human-readable console
// path spec.md's verbosity flags drive.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console logger whose level is derived from verbosity: 0 is
// info, positive values lower the floor toward debug/trace, negative values
// raise it toward warn/error, matching the repeatable -v/-q flags of
// spec.md §6.
func New(verbosity int) zerolog.Logger {
	level := levelFor(verbosity)
	zerolog.SetGlobalLevel(level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

func levelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity <= -2:
		return zerolog.ErrorLevel
	case verbosity == -1:
		return zerolog.WarnLevel
	case verbosity == 0:
		return zerolog.InfoLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
