package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var root zerolog.Logger

func init() {
	// Sensible default so packages can log before Init runs (tests, tools).
	root = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures the process-wide root logger. Format "console" gives
// human-readable output for local runs; anything else emits JSON lines.
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	root = zerolog.New(w).With().Timestamp().Logger()
}

// Component returns a logger tagged with the owning component name.
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
