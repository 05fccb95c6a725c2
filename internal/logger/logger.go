// Package logger builds the zerolog logger the rest of the pipeline shares.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger keyed to the runtime environment: human-readable
// console output during development, JSON everywhere else.
func New(environment string) zerolog.Logger {
	var out io.Writer = os.Stderr
	if environment == "development" || environment == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}
