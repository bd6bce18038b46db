// Package logging provides drover's logging infrastructure built on
// charmbracelet/log.
//
// It wraps charmbracelet/log to provide a centralized logger factory with
// component prefixes, level configuration, and stderr-only output. All log
// output goes to stderr; stdout is reserved for structured output.
//
// Usage:
//
//	// During CLI initialization (PersistentPreRun):
//	logging.Setup(verbose, quiet, jsonFormat)
//
//	// In each package:
//	var logger = logging.New("state")
//	logger.Info("acquired lock", "path", lockPath)
//
// Setup must be called before New so that child loggers inherit the correct
// level and formatter settings; charmbracelet/log copies state at creation
// time and later changes to the default logger do not propagate to existing
// children.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases for charmbracelet/log levels, re-exported so consumers do
// not need to import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// Setup configures the global logging defaults. Call once during CLI
// initialization.
//
//   - verbose: sets level to Debug
//   - quiet: sets level to Error (hides Info and Warn)
//   - jsonFormat: switches to the JSON formatter (NDJSON, suitable for CI)
//
// If both verbose and quiet are set, quiet wins: in scripted environments
// --quiet should always suppress noise regardless of other flags.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. The returned logger
// inherits global level and output settings from the default logger at
// creation time; call Setup first. An empty component string produces a
// logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful in tests, where output can be captured with a bytes.Buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
