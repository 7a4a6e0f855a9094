// Package logger configures structured logging on top of log/slog.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls the handler built by Setup.
type Options struct {
	// Format is "json" or "text". Production deployments use json.
	Format string
	// Level is one of debug, info, warn, error.
	Level string
}

// Setup builds a logger writing to w. A nil writer means os.Stdout.
func Setup(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// SetupDefault builds the logger and installs it as the slog default.
func SetupDefault(w io.Writer, opts Options) *slog.Logger {
	log := Setup(w, opts)
	slog.SetDefault(log)
	return log
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attributes.

// CommunityID returns the attribute for a community (guild) id.
func CommunityID(id string) slog.Attr {
	return slog.String("community_id", id)
}

// UserID returns the attribute for a member id.
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

// Err returns the attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
