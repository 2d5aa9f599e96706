// Package logging wires up the process-wide leveled logger. The control
// core logs to stderr at levels {trace, debug, info, warn, error} per
// spec §6; zerolog's level set maps onto this directly.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. consoleOut selects the human-readable
// console writer (for a terminal) over raw JSON (for a supervised/piped
// process); level parses one of trace/debug/info/warn/error (case
// insensitive), defaulting to info on a bad value.
func New(levelName string, consoleOut bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(levelName)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if consoleOut {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with the given component name,
// mirroring the teacher's "[main] …"/"[thermal] …" line-prefix habit but
// as a structured field instead of a string prefix.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
