// Package lifecycle returns the indicator to a known-dark state when the
// daemon stops.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinytelemetry/toucan/internal/indicator"
)

// Phase is the controller state. The only transition is Running to
// ShuttingDown.
type Phase int32

const (
	Running Phase = iota
	ShuttingDown
)

func (p Phase) String() string {
	if p == ShuttingDown {
		return "SHUTTING_DOWN"
	}
	return "RUNNING"
}

// Closer stops a board from accepting updates and returns the forced state.
type Closer interface {
	Close() indicator.State
}

// Resetter deletes the persisted snapshot. It reports whether one existed.
type Resetter interface {
	Reset() (bool, error)
}

// Controller runs the shutdown sequence exactly once.
type Controller struct {
	board    Closer
	renderer indicator.Renderer
	store    Resetter

	phase atomic.Int32
	done  chan struct{}
	err   error
}

// New creates a controller in the Running phase.
func New(board Closer, renderer indicator.Renderer, store Resetter) *Controller {
	return &Controller{
		board:    board,
		renderer: renderer,
		store:    store,
		done:     make(chan struct{}),
	}
}

// Phase reports the current phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Shutdown closes the board, renders the blank frame, releases the
// renderer and deletes the snapshot. Every step runs even when an earlier
// one fails; their errors are joined.
//
// Only the first call does the work. Later calls wait for it and return
// the same result, or ctx.Err() if ctx ends first.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.phase.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	defer close(c.done)
	c.err = c.run()
	return c.err
}

func (c *Controller) run() error {
	slog.Info("lifecycle: shutting down, clearing indicator")

	var errs []error
	state := indicator.State{}
	if c.board != nil {
		state = c.board.Close()
	}
	if c.renderer != nil {
		if err := c.renderer.Render(state); err != nil {
			errs = append(errs, fmt.Errorf("lifecycle: blank frame: %w", err))
		}
		if err := c.renderer.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("lifecycle: renderer cleanup: %w", err))
		}
	}
	if c.store != nil {
		existed, err := c.store.Reset()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("lifecycle: reset snapshot: %w", err))
		case existed:
			slog.Info("lifecycle: snapshot removed")
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		slog.Error("lifecycle: shutdown finished with errors", "error", err)
	}
	return err
}
