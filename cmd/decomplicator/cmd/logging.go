package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lucretia/decomplicator/internal/config"
)

// newLogger builds the process logger. Flags override settings. Logs go
// to stderr unless a log file is named; the format defaults to text on a
// terminal and JSON otherwise.
func newLogger(s config.LogSettings) (*slog.Logger, func() error, error) {
	level := firstSet(logLevel, s.Level, "warn")
	format := firstSet(logFormat, s.Format)
	file := firstSet(logFile, s.File)

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f.Close
	}
	if format == "" {
		format = "json"
		if file == "" && isTerminal(os.Stderr) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		_ = closer()
		return nil, nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return slog.New(handler), closer, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
