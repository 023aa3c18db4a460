package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/socketrpc"
)

// cliConfig holds only panel-relevant configuration. It reads the same
// file and TOUCAN_ environment as the daemon.
type cliConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	SocketPath     string        `mapstructure:"socket-path"`
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TOUCAN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

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
	if cfg.UpdateInterval <= 0 {
		return cfg, fmt.Errorf("invalid update-interval: %s", cfg.UpdateInterval)
	}
	if strings.HasPrefix(cfg.SocketPath, "~/") {
		cfg.SocketPath = filepath.Join(home, cfg.SocketPath[2:])
	}

	return cfg, nil
}
