package indicator

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Board operations after shutdown has begun.
	ErrClosed = errors.New("indicator: board is shut down")

	// ErrCorrupt marks a persisted record that is not a valid state.
	ErrCorrupt = errors.New("indicator: corrupt state record")

	// ErrRender wraps renderer failures reported by Board.
	ErrRender = errors.New("indicator: render failed")
)

// StoreError reports a failure to read, write or remove the persisted state.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("indicator store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
