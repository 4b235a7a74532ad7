// Package debug provides global debug logging toggles
package debug

import "log/slog"

// Enabled controls whether debug logging is active
var Enabled bool

// Trace controls whether per-sample logs are shown (angles, symbols, drops).
// Use --debug-trace to enable these very verbose logs
var Trace bool

// Log logs msg only if debug mode is enabled. Messages are written at info
// level so they show regardless of the configured log level.
func Log(msg string, args ...any) {
	if Enabled {
		slog.Info(msg, args...)
	}
}

// TraceLog logs msg only if trace mode is enabled
func TraceLog(msg string, args ...any) {
	if Trace {
		slog.Info(msg, args...)
	}
}
