package logbuf

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the process's global-style logger the way
// sap-gg-gok/internal/logging.Init does: a level parsed from a string, a
// console or JSON writer selected by format, writing through buf so the
// pipeline can buffer/discard records during per-row file matching.
func NewLogger(buf *Buffer, levelStr, format string, noColor bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = buf
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: buf, NoColor: noColor, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// NewSink returns the real stderr writer a Buffer should eventually flush
// records into.
func NewSink() io.Writer { return os.Stderr }
