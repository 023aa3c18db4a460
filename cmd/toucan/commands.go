package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/toucan/internal/history"
	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/protocol"
	"github.com/tinytelemetry/toucan/internal/render"
	"github.com/tinytelemetry/toucan/internal/socketrpc"
)

// errUsage marks a wrong invocation. main prints usage and exits 1.
var errUsage = errors.New("usage")

// Messages printed by the one-shot commands.
const (
	msgDeleted  = "LED status file deleted."
	msgNotFound = "LED status file not found, no need to delete."
)

// commandEnv carries what the one-shot commands need. Tests replace
// newRenderer to avoid touching GPIO.
type commandEnv struct {
	cfg         appConfig
	out         io.Writer
	newRenderer func(render.Config) (indicator.Renderer, error)
}

func newCommandEnv(cfg appConfig, out io.Writer) *commandEnv {
	return &commandEnv{cfg: cfg, out: out, newRenderer: render.New}
}

// dial returns a client when the daemon is running, or nil.
func (e *commandEnv) dial() *socketrpc.Client {
	if e.cfg.SocketPath == "" {
		return nil
	}
	client, err := socketrpc.Dial(e.cfg.SocketPath)
	if err != nil {
		slog.Debug("daemon not reachable, working offline", "socket", e.cfg.SocketPath, "error", err)
		return nil
	}
	return client
}

// parseStatus maps the command-line status to on/off. Exactly 0 is off;
// any other value, including text that is not a number, is on.
func parseStatus(s string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return true
	}
	return n != 0
}

func statusInt(on bool) int {
	if on {
		return 1
	}
	return 0
}

// runSet handles `toucan set <protocol> <status>`.
func (e *commandEnv) runSet(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	label, ok := protocol.Parse(args[0])
	if !ok {
		fmt.Fprintf(e.out, "No LED configuration for protocol: %s\n", args[0])
		return nil
	}
	on := parseStatus(args[1])

	if client := e.dial(); client != nil {
		defer client.Close()
		view, err := client.Set(label.String(), statusInt(on))
		if err != nil {
			return fmt.Errorf("daemon rejected update: %w", err)
		}
		fmt.Fprintln(e.out, formatActive(view.Active))
		return nil
	}

	store, err := indicator.NewFileStore(e.cfg.StatePath())
	if err != nil {
		return err
	}
	state, err := store.Set(label, on)
	if err != nil {
		return err
	}
	if err := e.renderOnce(state); err != nil {
		return err
	}
	fmt.Fprintln(e.out, formatActive(labelNames(state.Active())))
	return nil
}

// runReset handles `toucan reset`.
func (e *commandEnv) runReset(args []string) error {
	if len(args) != 0 {
		return errUsage
	}

	if client := e.dial(); client != nil {
		defer client.Close()
		if _, err := client.Clear(); err != nil {
			return fmt.Errorf("daemon rejected reset: %w", err)
		}
		fmt.Fprintln(e.out, msgDeleted)
		return nil
	}

	store, err := indicator.NewFileStore(e.cfg.StatePath())
	if err != nil {
		return err
	}
	renderErr := e.renderOnce(indicator.State{})
	existed, err := store.Reset()
	if err != nil {
		return errors.Join(renderErr, err)
	}
	if existed {
		fmt.Fprintln(e.out, msgDeleted)
	} else {
		fmt.Fprintln(e.out, msgNotFound)
	}
	return renderErr
}

// runStatus handles `toucan status`.
func (e *commandEnv) runStatus(args []string) error {
	if len(args) != 0 {
		return errUsage
	}

	var (
		state  indicator.State
		counts map[string]int64
		source string
	)
	if client := e.dial(); client != nil {
		defer client.Close()
		view, err := client.State()
		if err != nil {
			return err
		}
		for i := 0; i < len(view.Slots) && i < protocol.Count; i++ {
			state[i] = view.Slots[i]
		}
		if counts, err = client.Counts(); err != nil {
			slog.Warn("detection counts unavailable", "error", err)
		}
		source = "daemon"
	} else {
		store, err := indicator.NewFileStore(e.cfg.StatePath())
		if err != nil {
			return err
		}
		if state, err = store.Load(); err != nil {
			return err
		}
		counts = e.offlineCounts()
		source = "no snapshot at " + shortenPath(store.Path())
		if store.Exists() {
			source = "snapshot " + shortenPath(store.Path())
		}
	}

	writeStatus(e.out, state, counts, source)
	return nil
}

// offlineCounts reads the history directly when the daemon is down.
func (e *commandEnv) offlineCounts() map[string]int64 {
	if !e.cfg.HistoryEnabled || e.cfg.DBPath == "" {
		return nil
	}
	if _, err := os.Stat(e.cfg.DBPath); err != nil {
		return nil
	}
	hist, err := history.NewStore(e.cfg.DBPath, e.cfg.QueryTimeout)
	if err != nil {
		slog.Warn("detection history unavailable", "path", e.cfg.DBPath, "error", err)
		return nil
	}
	defer hist.Close()
	counts, err := hist.Counts()
	if err != nil {
		slog.Warn("detection counts unavailable", "error", err)
		return nil
	}
	return counts
}

// renderOnce shows state on the configured renderer and releases it, the
// way a one-shot update always cleaned up the GPIO pins on exit.
func (e *commandEnv) renderOnce(state indicator.State) error {
	renderer, err := e.newRenderer(e.cfg.RenderConfig(e.out))
	if err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	renderErr := renderer.Render(state)
	cleanupErr := renderer.Cleanup()
	return errors.Join(renderErr, cleanupErr)
}

func writeStatus(w io.Writer, state indicator.State, counts map[string]int64, source string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	fmt.Fprintf(w, "%s %s\n", formatActive(labelNames(state.Active())), dim.Render("("+source+")"))
	fmt.Fprintln(w, render.Row(state))
	if counts == nil {
		return
	}
	fmt.Fprintln(w)
	for _, l := range protocol.All() {
		port, _ := protocol.Port(l)
		fmt.Fprintf(w, "  %-6s %5d  %s\n", l, port, dim.Render(strconv.FormatInt(counts[l.String()], 10)+" detections"))
	}
}

func formatActive(active []string) string {
	if len(active) == 0 {
		return "Active: none"
	}
	return "Active: " + strings.Join(active, ", ")
}

func labelNames(labels []protocol.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.String())
	}
	return out
}
