package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log-level: %q (want debug, info, warn or error)", s)
}

func newLogHandler(w io.Writer, cfg appConfig) slog.Handler {
	level, _ := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// configureRuntimeLogger installs the daemon's default logger. It writes to
// ~/.local/state/toucan/toucan.log, or to stderr when log-file is off or
// the file cannot be opened.
func configureRuntimeLogger(cfg appConfig) func() {
	install := func(w io.Writer) {
		slog.SetDefault(slog.New(newLogHandler(w, cfg)).With("service", "toucan", "pid", os.Getpid()))
	}

	if !cfg.LogFile {
		install(os.Stderr)
		return func() {}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		install(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "toucan")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		install(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "toucan.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		install(os.Stderr)
		return func() {}
	}

	install(f)
	return func() {
		_ = f.Close()
	}
}

// configureCommandLogger keeps one-shot commands quiet on stderr unless
// something goes wrong.
func configureCommandLogger(cfg appConfig) {
	level, _ := parseLogLevel(cfg.LogLevel)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
