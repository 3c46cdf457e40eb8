// Package logging configures structured logging for the embedding client
// using log/slog.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level allows runtime log level changes.
var Level slog.LevelVar

// Levels beyond slog's built-in range, accepted as "trace" and "silent".
const (
	LevelTrace  slog.Level = slog.LevelDebug - 4
	LevelSilent slog.Level = slog.LevelError + 8
)

// Setup initialises the default slog logger from environment variables:
//
//   - EMBED_LOG_LEVEL: debug, info, warn, error (default: info)
//   - EMBED_LOG_FORMAT: json, text (default: json)
//
// The standard library "log" package is routed into the same handler.
func Setup() {
	SetupWithConfig(os.Getenv("EMBED_LOG_LEVEL"), os.Getenv("EMBED_LOG_FORMAT"), os.Stderr)
}

// SetupWithConfig configures slog with explicit parameters.
func SetupWithConfig(levelStr, formatStr string, w io.Writer) *slog.Logger {
	Level.Set(ParseLevel(levelStr))

	opts := &slog.HandlerOptions{Level: &Level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(formatStr), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("sdk", "visual-embed")
	slog.SetDefault(logger)

	log.SetOutput(stdlibBridge{logger: logger})
	log.SetFlags(0)
	return logger
}

// ParseLevel converts a string to slog.Level. Defaults to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "all":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent":
		return LevelSilent
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the level at runtime. An empty string leaves it as is.
func SetLevel(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	Level.Set(ParseLevel(s))
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

type stdlibBridge struct {
	logger *slog.Logger
}

func (b stdlibBridge) Write(p []byte) (int, error) {
	b.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
