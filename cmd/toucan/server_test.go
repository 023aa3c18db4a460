package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/lifecycle"
	"github.com/tinytelemetry/toucan/internal/metrics"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

func TestResetIndicatorWritesClearedMetrics(t *testing.T) {
	dir := t.TempDir()
	store, err := indicator.NewFileStore(filepath.Join(dir, indicator.DefaultFileName))
	require.NoError(t, err)

	m := metrics.New()
	rec := &stubRenderer{}
	board, err := indicator.OpenBoard(store, rec, indicator.WithObserver(m.ObserveState))
	require.NoError(t, err)
	_, err = board.Set(protocol.SSH, true)
	require.NoError(t, err)

	textfile := filepath.Join(dir, "toucan.prom")
	require.NoError(t, m.WriteTextfile(textfile))
	before, err := os.ReadFile(textfile)
	require.NoError(t, err)
	require.Contains(t, string(before), `toucan_indicator_active{protocol="ssh"} 1`)

	resetIndicator(lifecycle.New(board, rec, store), m, textfile)

	after, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(after), `toucan_indicator_active{protocol="ssh"} 0`)
	assert.False(t, store.Exists())
	assert.Equal(t, 1, rec.cleanups)
}

func TestResetIndicatorWithoutTextfile(t *testing.T) {
	store, err := indicator.NewFileStore(filepath.Join(t.TempDir(), indicator.DefaultFileName))
	require.NoError(t, err)
	rec := &stubRenderer{}
	board, err := indicator.OpenBoard(store, rec)
	require.NoError(t, err)

	resetIndicator(lifecycle.New(board, rec, store), metrics.New(), "")
	assert.Equal(t, indicator.State{}, rec.frames[len(rec.frames)-1])
}

// startDaemon runs runServer until it has opened its socket, which happens
// after signal handling is in place.
func startDaemon(t *testing.T, cfg appConfig) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- runServer(cfg) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SocketPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "daemon did not start")
	return done
}

func interruptDaemon(t *testing.T, done <-chan error) error {
	t.Helper()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after SIGINT")
		return nil
	}
}

func daemonConfig(t *testing.T) appConfig {
	t.Helper()
	cfg := testConfig(t)
	cfg.LogPath = filepath.Join(cfg.StateDir, "opencanary.log")
	cfg.SocketPath = filepath.Join(cfg.StateDir, "toucan.sock")
	cfg.MetricsTextfile = filepath.Join(cfg.StateDir, "toucan.prom")
	cfg.LogLevel = "error"
	require.NoError(t, os.WriteFile(cfg.LogPath, nil, 0644))
	return cfg
}

func TestRunServerResetsRestoredStateOnSignal(t *testing.T) {
	cfg := daemonConfig(t)
	store, err := indicator.NewFileStore(cfg.StatePath())
	require.NoError(t, err)
	_, err = store.Set(protocol.SSH, true)
	require.NoError(t, err)

	done := startDaemon(t, cfg)
	require.NoError(t, interruptDaemon(t, done))

	assert.False(t, store.Exists(), "restored snapshot is cleared on shutdown")
	data, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `toucan_indicator_active{protocol="ssh"} 0`)
}

func TestRunServerStartsWithUnreadableSnapshot(t *testing.T) {
	cfg := daemonConfig(t)
	require.NoError(t, os.MkdirAll(cfg.StatePath(), 0755))

	done := startDaemon(t, cfg)
	require.NoError(t, interruptDaemon(t, done))

	data, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "toucan_store_errors_total 1")
}
