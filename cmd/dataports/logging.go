package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger builds the process logger. The returned LevelVar changes the
// level of the running logger.
func setupLogger(w io.Writer, level, format string) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(level))

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: strings.ToLower(level) == "debug",
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	), levelVar
}
