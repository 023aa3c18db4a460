package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tinytelemetry/toucan/internal/logsource"
)

// stdinPath selects piped stdin instead of a log file.
const stdinPath = "-"

// InputSourcePlugin is a small plugin primitive for wiring log inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (logsource.LogSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	LogPath   string
	FromStart bool
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	return []InputSourcePlugin{
		fileInputPlugin{path: cfg.LogPath, fromStart: cfg.FromStart},
		stdinInputPlugin{selected: cfg.LogPath == stdinPath},
	}
}

// openLogSource builds the first enabled input. Failing to open it is the
// daemon's only fatal runtime error.
func openLogSource(ctx context.Context, cfg InputPluginConfig) (logsource.LogSource, error) {
	for _, plugin := range buildInputPlugins(cfg) {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", plugin.Name(), err)
		}
		return src, nil
	}
	if cfg.LogPath == stdinPath {
		return nil, errors.New("log-path is \"-\" but stdin is not a pipe")
	}
	return nil, errors.New("no log input configured")
}

type fileInputPlugin struct {
	path      string
	fromStart bool
}

func (p fileInputPlugin) Name() string { return "file" }

func (p fileInputPlugin) Enabled() bool { return p.path != "" && p.path != stdinPath }

func (p fileInputPlugin) Build(ctx context.Context) (logsource.LogSource, error) {
	src, err := logsource.NewFileSource(ctx, logsource.FileConfig{
		Path:      p.path,
		FromStart: p.fromStart,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

type stdinInputPlugin struct {
	selected bool
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	if !p.selected {
		return false
	}
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (logsource.LogSource, error) {
	return logsource.NewStdinSource(ctx), nil
}
