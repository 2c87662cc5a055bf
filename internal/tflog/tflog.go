// Package tflog wraps zerolog as the structured logger shared by the
// compiler pipeline, executor, and device backends. It follows
// itohio-EasyRobot's pkg/logger: a single package-level logger with
// caller info, console-formatted for local/dev use.
package tflog

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the package-wide logger. Compiler passes log selector matches
// and kernel choices at Debug and unsupported-rewrite skips at Warn; the
// executor logs each dispatch at Debug; the MatMul kernel logs
// device-to-host fallbacks at Warn.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Caller().Logger()

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel adjusts the global minimum log level, used by cmd/tensorforge's
// --verbose flag.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
