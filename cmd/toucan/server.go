package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/toucan/internal/history"
	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/lifecycle"
	"github.com/tinytelemetry/toucan/internal/metrics"
	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/render"
	"github.com/tinytelemetry/toucan/internal/socketrpc"
	"github.com/tinytelemetry/toucan/internal/watcher"
)

// shutdownDeadline bounds the reset sequence after the first signal.
const shutdownDeadline = 10 * time.Second

// runServer follows the honeypot log and drives the indicator until a
// signal arrives or the log source ends, then resets the indicator.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger(cfg)
	defer cleanupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registered before anything is rendered so an early signal still
	// reaches the reset below.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// The log is opened first: if it is missing nothing else is touched.
	src, err := openLogSource(ctx, InputPluginConfig{
		LogPath:   cfg.LogPath,
		FromStart: cfg.FromStart,
	})
	if err != nil {
		slog.Error("cannot open honeypot log", "path", cfg.LogPath, "error", err)
		return fmt.Errorf("cannot open honeypot log %s: %w", cfg.LogPath, err)
	}
	defer src.Stop()

	store, err := indicator.NewFileStore(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}

	renderer, err := render.New(cfg.RenderConfig(os.Stdout))
	if err != nil {
		slog.Error("renderer unavailable, indicator will not be displayed", "renderer", cfg.Renderer, "error", err)
		renderer = render.Nop{}
	}

	m := metrics.New()
	board, err := indicator.OpenBoard(store, renderer, indicator.WithObserver(m.ObserveState))
	if board == nil {
		return fmt.Errorf("failed to open indicator: %w", err)
	}
	if err != nil {
		var storeErr *indicator.StoreError
		if errors.As(err, &storeErr) {
			m.StoreErrors.Inc()
		}
		if errors.Is(err, indicator.ErrRender) {
			m.RenderErrors.Inc()
		}
		slog.Error("indicator started with errors", "state", store.Path(), "error", err)
	}
	controller := lifecycle.New(board, renderer, store)

	var hist *history.Store
	if cfg.HistoryEnabled {
		hist, err = history.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			slog.Warn("detection history disabled", "path", cfg.DBPath, "error", err)
			hist = nil
		} else {
			defer hist.Close()
			if rc := history.NewRetentionCleaner(hist, history.RetentionConfig{RetentionDays: cfg.HistoryRetention}); rc != nil {
				defer rc.Stop()
			}
		}
	}

	watchOpts := []watcher.Option{watcher.WithMetrics(m)}
	var reader model.HistoryReader
	if hist != nil {
		watchOpts = append(watchOpts, watcher.WithHistory(hist))
		reader = hist
	}

	// Start socket RPC server for command-line updates and the panel.
	sockServer := socketrpc.NewServer(cfg.SocketPath, board, reader)
	if err := sockServer.Start(); err != nil {
		slog.Warn("socket server unavailable", "path", cfg.SocketPath, "error", err)
	} else {
		defer sockServer.Stop()
	}

	printStartupBanner(cfg, src.Name(), hist != nil)

	resetDone := make(chan struct{})
	defer close(resetDone)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := watcher.New(board, watchOpts...).Run(gctx, src)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		// The source ended on its own (stdin EOF). Stop the other workers.
		cancel()
		return err
	})

	g.Go(func() error {
		return m.RunTextfile(gctx, cfg.MetricsTextfile, cfg.MetricsInterval)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("signal received, shutting down", "signal", sig.String())
			fmt.Println("\nShutting down, clearing indicator...")
			cancel()
			go watchLateSignals(sigCh, controller, resetDone)
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server: errgroup exited with error", "error", err)
	}

	src.Stop()

	resetIndicator(controller, m, cfg.MetricsTextfile)
	return nil
}

// resetIndicator runs the shutdown reset and then writes the last metrics
// textfile, so it shows the cleared indicator.
func resetIndicator(controller *lifecycle.Controller, m *metrics.Metrics, textfile string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := controller.Shutdown(ctx); err != nil {
		// Reset is best-effort; the process still exits cleanly.
		slog.Warn("indicator reset incomplete", "error", err)
	}
	if textfile == "" {
		return
	}
	if err := m.WriteTextfile(textfile); err != nil {
		slog.Warn("final metrics write failed", "path", textfile, "error", err)
	}
}

// watchLateSignals logs signals that arrive while the reset is running and
// forces an exit if the reset hangs past the deadline. It returns once done
// is closed.
func watchLateSignals(sigCh <-chan os.Signal, controller *lifecycle.Controller, done <-chan struct{}) {
	deadline := time.NewTimer(shutdownDeadline)
	defer deadline.Stop()
	for {
		select {
		case <-done:
			return
		case sig := <-sigCh:
			slog.Info("already shutting down, ignoring signal", "signal", sig.String(), "phase", controller.Phase())
		case <-deadline.C:
			slog.Error("shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}
}

func printStartupBanner(cfg appConfig, sourceName string, historyOn bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╦ ╦╔═╗╔═╗╔╗╔
     ║ ║ ║║ ║║  ╠═╣║║║
     ╩ ╚═╝╚═╝╚═╝╩ ╩╝╚╝`)

	status := func(on bool, label, value string) string {
		mark := dot
		text := dim.Render(value)
		if on {
			mark = check
			text = cyan.Render(value)
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, text)
	}

	input := cfg.LogPath
	if sourceName == "stdin" {
		input = "stdin"
	}

	lines := []string{
		"",
		logo,
		"    " + dim.Render("v"+version),
		"",
		dim.Render("    ─────────────────────────────────"),
		"",
		bold.Render("    Watching"),
		"",
		status(true, "Honeypot Log", shortenPath(input)),
		status(true, "Unix Socket", shortenPath(cfg.SocketPath)),
		"",
		bold.Render("    Indicator"),
		"",
		status(cfg.Renderer != render.NameNone, "Renderer", cfg.Renderer),
		status(true, "Snapshot", shortenPath(cfg.StatePath())),
		"",
		bold.Render("    Storage"),
		"",
	}
	if historyOn {
		lines = append(lines, status(true, "History", shortenPath(cfg.DBPath)))
	} else {
		lines = append(lines, status(false, "History", "disabled"))
	}
	if cfg.MetricsTextfile != "" {
		lines = append(lines, status(true, "Metrics", shortenPath(cfg.MetricsTextfile)))
	} else {
		lines = append(lines, status(false, "Metrics", "disabled"))
	}
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, status(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, status(false, "Config File", "default (no file)"))
	}
	lines = append(lines,
		"",
		dim.Render("    ─────────────────────────────────"),
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop and clear the indicator"),
		"",
	)

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
