// Package logger builds the zerolog loggers used by the command line tools.
package logger

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing JSON to writer.
func New(writer io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsole returns a human readable logger on stderr at the named level.
func NewConsole(level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return New(zerolog.ConsoleWriter{Out: os.Stderr}, lvl), nil
}

// ParseLevel maps a level name to a zerolog level. The empty string is info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log level %q", level)
	}
	return lvl, nil
}
