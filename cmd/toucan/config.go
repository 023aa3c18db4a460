package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/toucan/internal/history"
	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/metrics"
	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/protocol"
	"github.com/tinytelemetry/toucan/internal/render"
	"github.com/tinytelemetry/toucan/internal/socketrpc"
)

const (
	defaultRenderer        = render.NameAPA102
	defaultDataPin         = "GPIO23"
	defaultClockPin        = "GPIO24"
	defaultBrightness      = 0.1
	defaultHistoryDays     = history.DefaultRetentionDays // 0 = keep forever
	defaultQueryTimeout    = 10 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultMetricsInterval = metrics.DefaultInterval
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	LogPath   string `mapstructure:"log-path" yaml:"log-path"`
	FromStart bool   `mapstructure:"from-start" yaml:"from-start"`
	StateDir  string `mapstructure:"state-dir" yaml:"state-dir"`

	Renderer   string  `mapstructure:"renderer" yaml:"renderer"`
	NumLEDs    int     `mapstructure:"num-leds" yaml:"num-leds"`
	DataPin    string  `mapstructure:"data-pin" yaml:"data-pin"`
	ClockPin   string  `mapstructure:"clock-pin" yaml:"clock-pin"`
	Brightness float64 `mapstructure:"brightness" yaml:"brightness"`

	SocketPath string `mapstructure:"socket-path" yaml:"socket-path"`

	HistoryEnabled   bool          `mapstructure:"history-enabled" yaml:"history-enabled"`
	DBPath           string        `mapstructure:"db-path" yaml:"db-path"`
	HistoryRetention int           `mapstructure:"history-retention" yaml:"history-retention"`
	QueryTimeout     time.Duration `mapstructure:"query-timeout" yaml:"query-timeout"`

	MetricsTextfile string        `mapstructure:"metrics-textfile" yaml:"metrics-textfile"`
	MetricsInterval time.Duration `mapstructure:"metrics-interval" yaml:"metrics-interval"`

	LogLevel  string `mapstructure:"log-level" yaml:"log-level"`
	LogFormat string `mapstructure:"log-format" yaml:"log-format"`
	LogFile   bool   `mapstructure:"log-file" yaml:"log-file"`

	ConfigPath string `mapstructure:"-" yaml:"-"` // not from config file
}

// StatePath is the indicator snapshot file inside the state directory.
func (c appConfig) StatePath() string {
	return filepath.Join(c.StateDir, indicator.DefaultFileName)
}

// RenderConfig maps the strip settings onto the renderer factory.
func (c appConfig) RenderConfig(out io.Writer) render.Config {
	return render.Config{
		Name:       c.Renderer,
		NumLEDs:    c.NumLEDs,
		DataPin:    c.DataPin,
		ClockPin:   c.ClockPin,
		Brightness: c.Brightness,
		Output:     out,
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	shareDir := filepath.Join(home, ".local", "share", "toucan")

	v := viper.New()
	v.SetEnvPrefix("TOUCAN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("log-path", model.DefaultLogPath)
	v.SetDefault("from-start", false)
	v.SetDefault("state-dir", shareDir)
	v.SetDefault("renderer", defaultRenderer)
	v.SetDefault("num-leds", protocol.Count)
	v.SetDefault("data-pin", defaultDataPin)
	v.SetDefault("clock-pin", defaultClockPin)
	v.SetDefault("brightness", defaultBrightness)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("history-enabled", true)
	v.SetDefault("db-path", filepath.Join(shareDir, "history.duckdb"))
	v.SetDefault("history-retention", defaultHistoryDays)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("metrics-textfile", "")
	v.SetDefault("metrics-interval", defaultMetricsInterval)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("log-file", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "toucan", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			cfg.ConfigPath = used
		}
	}

	cfg.StateDir = expandHome(cfg.StateDir, home)
	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.SocketPath = expandHome(cfg.SocketPath, home)
	cfg.MetricsTextfile = expandHome(cfg.MetricsTextfile, home)
	if cfg.LogPath != "-" {
		cfg.LogPath = expandHome(cfg.LogPath, home)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	var errs []error
	if c.NumLEDs != protocol.Count {
		errs = append(errs, fmt.Errorf("invalid num-leds: %d (the strip has one pixel per protocol, want %d)", c.NumLEDs, protocol.Count))
	}
	if c.Brightness <= 0 || c.Brightness > 1 {
		errs = append(errs, fmt.Errorf("invalid brightness: %v (want 0 < brightness <= 1)", c.Brightness))
	}
	if !slices.Contains(render.Names(), strings.ToLower(c.Renderer)) {
		errs = append(errs, fmt.Errorf("invalid renderer: %q (want one of %s)", c.Renderer, strings.Join(render.Names(), ", ")))
	}
	if c.LogPath == "" {
		errs = append(errs, errors.New("log-path must not be empty"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state-dir must not be empty"))
	}
	if c.HistoryRetention < 0 {
		errs = append(errs, fmt.Errorf("invalid history-retention: %d", c.HistoryRetention))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log-format: %q (want text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// writeConfig prints the effective configuration as YAML.
func writeConfig(w io.Writer, cfg appConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
