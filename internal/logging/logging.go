// Package logging builds the structured loggers handed to each component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger with component metadata writing to stdout.
// Unknown levels fall back to info.
func New(component, level string, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(w, component, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, component, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.DurationFieldUnit = time.Millisecond
	return zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(lvl)
}
