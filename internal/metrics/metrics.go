// Package metrics keeps the daemon's Prometheus counters and writes them
// to a node_exporter textfile. Nothing is served over the network.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

const namespace = "toucan"

// DefaultInterval is how often the textfile is rewritten.
const DefaultInterval = 15 * time.Second

// Metrics contains every counter and gauge the daemon reports.
type Metrics struct {
	Registry *prometheus.Registry

	Lines        prometheus.Counter
	DecodeErrors prometheus.Counter
	Ignored      prometheus.Counter
	StoreErrors  prometheus.Counter
	RenderErrors prometheus.Counter
	Detections   *prometheus.CounterVec
	Active       *prometheus.GaugeVec
}

// New creates the metric set on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Log lines read from the honeypot log",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Log lines that were not a JSON object",
		}),
		Ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_events_total",
			Help:      "Decoded events whose dst_port is not a watched protocol",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Indicator state updates that failed to persist",
		}),
		RenderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Frames the renderer failed to write",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Events classified as a watched protocol",
		}, []string{"protocol"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indicator_active",
			Help:      "Whether the protocol's indicator is lit (1) or dark (0)",
		}, []string{"protocol"}),
	}

	m.Registry.MustRegister(
		m.Lines, m.DecodeErrors, m.Ignored, m.StoreErrors, m.RenderErrors,
		m.Detections, m.Active,
	)

	// Pre-create every series.
	for _, l := range protocol.All() {
		m.Detections.WithLabelValues(l.String())
		m.Active.WithLabelValues(l.String()).Set(0)
	}
	return m
}

// ObserveState mirrors the indicator into the active gauges. It is meant
// to be registered with indicator.WithObserver.
func (m *Metrics) ObserveState(s indicator.State) {
	for i, on := range s {
		v := 0.0
		if on {
			v = 1
		}
		m.Active.WithLabelValues(protocol.At(i).String()).Set(v)
	}
}

// WriteTextfile atomically writes the registry in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}

// RunTextfile rewrites path every interval until ctx is done. The caller
// writes the last copy once the indicator has been reset.
func (m *Metrics) RunTextfile(ctx context.Context, path string, interval time.Duration) error {
	if path == "" {
		return nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.WriteTextfile(path); err != nil {
			slog.Warn("metrics: textfile write failed", "path", path, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
