package main

import (
	"log/slog"
	"os"

	"github.com/MrWong99/voicelink/internal/config"
)

// slogLevel maps a configured level onto slog. Unknown values mean info.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes to stderr so log lines never interleave with the chat
// rows printed on stdout. level may be changed later for hot reload.
func newLogger(format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
