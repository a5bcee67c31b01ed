// Package obslog provides the process-wide structured logger shared by
// every component of the image repository.
package obslog

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the global logger is constructed.
type Config struct {
	Level  string // trace|debug|info|warn|error|fatal, default info
	Pretty bool   // human-readable console output instead of JSON
}

var (
	global zerolog.Logger
	once   sync.Once
)

func init() {
	// Safe default before Init is called, e.g. during package-level tests.
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// New builds a standalone logger from cfg without touching the global one.
func New(cfg Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Init initializes the global logger exactly once. Call from cmd/server/main.go.
func Init(cfg Config) {
	once.Do(func() {
		global = New(cfg)
	})
}

// L returns the global logger.
func L() zerolog.Logger { return global }

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Structured field names used consistently across the request/response and
// background-task log lines.
const (
	FieldAlias    = "alias"
	FieldHash     = "hash"
	FieldFilename = "filename"
	FieldPath     = "path"
	FieldMethod   = "method"
	FieldStatus   = "status"
	FieldDuration = "duration_ms"
	FieldBytes    = "response_bytes"
	FieldRemote   = "remote_addr"
)
