// Package watcher turns honeypot log lines into indicator updates.
package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/logsource"
	"github.com/tinytelemetry/toucan/internal/metrics"
	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

// PortField is the honeypot event field holding the destination port.
const PortField = "dst_port"

// Outcome describes what happened to one line.
type Outcome int

const (
	// Malformed lines are not a JSON object.
	Malformed Outcome = iota
	// Ignored events carry no watched dst_port.
	Ignored
	// Detected events lit (or kept lit) an indicator slot.
	Detected
	// Failed events matched but the board could not apply them.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Malformed:
		return "malformed"
	case Ignored:
		return "ignored"
	case Detected:
		return "detected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Board is the slice of indicator.Board the watcher drives.
type Board interface {
	Set(l protocol.Label, on bool) (indicator.State, error)
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithMetrics counts lines and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithHistory appends every detection to h.
func WithHistory(h model.HistoryWriter) Option {
	return func(w *Watcher) { w.history = h }
}

// Watcher classifies events and sets the matching indicator slot.
type Watcher struct {
	board   Board
	metrics *metrics.Metrics
	history model.HistoryWriter
	now     func() time.Time
}

// New creates a watcher feeding board.
func New(board Board, opts ...Option) *Watcher {
	w := &Watcher{board: board, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes src until its channel closes (nil) or ctx is cancelled
// (ctx.Err()). Per-line failures are logged and never stop the loop.
func (w *Watcher) Run(ctx context.Context, src logsource.LogSource) error {
	lines := src.Lines()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-lines:
			if !ok {
				slog.Info("watcher: log source closed", "source", src.Name())
				return nil
			}
			if env.Source == "" {
				env.Source = src.Name()
			}
			w.Handle(env)
		}
	}
}

// Handle processes a single line.
func (w *Watcher) Handle(env model.IngestEnvelope) Outcome {
	if w.metrics != nil {
		w.metrics.Lines.Inc()
	}

	event, err := decodeEvent(env.Line)
	if err != nil {
		slog.Warn("watcher: skipping undecodable line", "source", env.Source, "error", err)
		if w.metrics != nil {
			w.metrics.DecodeErrors.Inc()
		}
		return Malformed
	}

	label, ok := protocol.Classify(event[PortField])
	if !ok {
		slog.Debug("watcher: event not watched", "source", env.Source, "dst_port", event[PortField])
		if w.metrics != nil {
			w.metrics.Ignored.Inc()
		}
		return Ignored
	}

	port, _ := protocol.Port(label)
	slog.Info("activity detected", "port", port, "protocol", label, "source", env.Source)
	if w.metrics != nil {
		w.metrics.Detections.WithLabelValues(label.String()).Inc()
	}
	w.record(label, port, env.Source)

	if _, err := w.board.Set(label, true); err != nil {
		w.reportBoardError(label, err)
		return Failed
	}
	return Detected
}

func (w *Watcher) record(label protocol.Label, port int, source string) {
	if w.history == nil {
		return
	}
	err := w.history.Record(model.Detection{
		DetectedAt: w.now(),
		Protocol:   label.String(),
		DstPort:    port,
		Source:     source,
	})
	if err != nil {
		slog.Warn("watcher: history record failed", "protocol", label, "error", err)
	}
}

func (w *Watcher) reportBoardError(label protocol.Label, err error) {
	var storeErr *indicator.StoreError
	switch {
	case errors.Is(err, indicator.ErrClosed):
		slog.Debug("watcher: board closed, dropping update", "protocol", label)
	case errors.As(err, &storeErr):
		slog.Error("watcher: indicator state not saved", "protocol", label, "path", storeErr.Path, "error", err)
		if w.metrics != nil {
			w.metrics.StoreErrors.Inc()
		}
	default:
		slog.Error("watcher: indicator render failed", "protocol", label, "error", err)
		if w.metrics != nil {
			w.metrics.RenderErrors.Inc()
		}
	}
}

// decodeEvent parses exactly one JSON object. Numbers are kept as
// json.Number so a port like 22.5 is not silently truncated.
func decodeEvent(line string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewBufferString(line))
	dec.UseNumber()

	var event map[string]any
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event == nil {
		return nil, errors.New("decode event: not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode event: trailing data after object")
	}
	return event, nil
}
