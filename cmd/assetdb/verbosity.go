package main

import "log/slog"

// verbosityToLogLevel maps the CLI's 0-5 verbosity scale onto slog levels:
// 0-1 warn, 2-3 info, 4-5 debug. Values outside the scale clamp to the
// nearest end.
func verbosityToLogLevel(v int) slog.Level {
	switch {
	case v <= 1:
		return slog.LevelWarn
	case v <= 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
