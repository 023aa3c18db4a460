package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

func TestObserveState(t *testing.T) {
	m := New()

	var s indicator.State
	s, _ = s.With(protocol.RDP, true)
	m.ObserveState(s)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Active.WithLabelValues("rdp")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active.WithLabelValues("ssh")))

	m.ObserveState(indicator.State{})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active.WithLabelValues("rdp")))
}

func TestSeriesPrecreated(t *testing.T) {
	m := New()
	assert.Equal(t, protocol.Count, testutil.CollectAndCount(m.Detections))
	assert.Equal(t, protocol.Count, testutil.CollectAndCount(m.Active))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Lines.Add(3)
	m.Detections.WithLabelValues("ssh").Inc()

	path := filepath.Join(t.TempDir(), "toucan.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "toucan_lines_total 3")
	assert.Contains(t, body, `toucan_detections_total{protocol="ssh"} 1`)
}

func TestRunTextfileWritesUntilCancel(t *testing.T) {
	m := New()
	m.DecodeErrors.Inc()
	path := filepath.Join(t.TempDir(), "toucan.prom")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunTextfile(ctx, path, time.Hour) }()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "toucan_decode_errors_total 1")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunTextfileDisabled(t *testing.T) {
	assert.NoError(t, New().RunTextfile(context.Background(), "", 0))
}
