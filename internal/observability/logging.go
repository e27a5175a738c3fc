package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog Logger.
// env=dev (or development) uses a human-friendly console writer; debug lowers
// the level so step-by-step selector traces are emitted.
func NewLogger(env string, debug bool) zerolog.Logger {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "dev" || env == "development" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	if debug {
		return l.Level(zerolog.DebugLevel)
	}
	return l.Level(zerolog.InfoLevel)
}
