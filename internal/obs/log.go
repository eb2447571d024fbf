package obs

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger. Development gets a human readable
// console writer; every other environment gets one JSON object per line.
func NewLogger(environment string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, environment)
}

// NewLoggerTo is NewLogger with an explicit sink.
func NewLoggerTo(out io.Writer, environment string) zerolog.Logger {
	var w io.Writer = out
	level := zerolog.InfoLevel
	if environment == "development" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "ngo-portal-api").
		Str("env", environment).
		Logger()
}
