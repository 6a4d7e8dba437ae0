// Package logger exposes the process-wide structured logger. Handlers
// write JSON to stderr so log lines never mix with command output.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// L is the shared logger. Packages log through it directly rather than
// threading a logger through constructors.
var L = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

// SetLevel adjusts the global level at runtime. Unrecognized names fall
// back to info.
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}
