package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// newLogger builds the process logger. Unknown levels fall back to info and
// any format other than "text" yields JSON. Debug logs carry source lines.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", appName, "version", Version, "pid", os.Getpid())
}
