package indicator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinytelemetry/toucan/internal/protocol"
)

// Persister is the durable snapshot contract used by Board. Set must be
// a single locked load-modify-save so updates written by other processes
// are merged rather than overwritten.
type Persister interface {
	Load() (State, error)
	Set(l protocol.Label, on bool) (State, error)
	Reset() (bool, error)
}

// Board is the single owner of indicator state inside a long-running
// process. Every mutation, its snapshot write and the render of the result
// happen under one mutex, so renders always see a complete state and are
// issued in mutation order.
type Board struct {
	mu       sync.Mutex
	store    Persister
	renderer Renderer
	state    State
	closed   bool
	observe  func(State)
}

// BoardOption customizes a Board.
type BoardOption func(*Board)

// WithObserver registers fn to be called with every state the board commits.
func WithObserver(fn func(State)) BoardOption {
	return func(b *Board) { b.observe = fn }
}

// OpenBoard restores the last snapshot and renders it. A corrupt snapshot
// is discarded and the board starts all-off. A snapshot that cannot be read
// at all is left in place and the board also starts all-off. Store and
// render failures are returned alongside a usable board.
func OpenBoard(store Persister, renderer Renderer, opts ...BoardOption) (*Board, error) {
	if store == nil || renderer == nil {
		return nil, errors.New("indicator: board needs a store and a renderer")
	}

	var errs []error
	state, err := store.Load()
	switch {
	case err == nil:
	case errors.Is(err, ErrCorrupt):
		slog.Warn("indicator: discarding corrupt snapshot", "error", err)
		if _, rerr := store.Reset(); rerr != nil {
			errs = append(errs, rerr)
		}
		state = State{}
	default:
		slog.Error("indicator: snapshot unreadable, starting all off", "error", err)
		errs = append(errs, err)
		state = State{}
	}

	b := &Board{
		store:    store,
		renderer: renderer,
		state:    state,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.notify(state)

	if err := renderer.Render(state); err != nil {
		errs = append(errs, fmt.Errorf("%w: initial frame: %w", ErrRender, err))
	}
	return b, errors.Join(errs...)
}

// Set turns one slot on or off in the persisted snapshot and renders the
// result. The board adopts whatever the store now holds, including slots
// changed by other processes since the last update.
//
// A store failure leaves the board unchanged. A render failure does not
// roll back the committed state.
func (b *Board) Set(l protocol.Label, on bool) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.state, ErrClosed
	}
	if _, ok := protocol.Index(l); !ok {
		return b.state, fmt.Errorf("indicator: unknown protocol %q", l)
	}
	next, err := b.store.Set(l, on)
	if err != nil {
		return b.state, err
	}
	if next != b.state {
		b.state = next
		b.notify(next)
	}

	if err := b.renderer.Render(next); err != nil {
		return next, fmt.Errorf("%w: %w", ErrRender, err)
	}
	return next, nil
}

// Snapshot returns a copy of the current state.
func (b *Board) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Clear turns every slot off, renders the blank frame and deletes the
// snapshot. Unlike Close, the board keeps accepting updates.
func (b *Board) Clear() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.state, ErrClosed
	}
	b.state = State{}
	b.notify(b.state)

	var errs []error
	if err := b.renderer.Render(b.state); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrRender, err))
	}
	if _, err := b.store.Reset(); err != nil {
		errs = append(errs, err)
	}
	return b.state, errors.Join(errs...)
}

// Close forces every slot off in memory and rejects all later updates. It
// waits for an in-flight Set to finish, so nothing applied before Close can
// render after the caller's reset. Close is idempotent.
func (b *Board) Close() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.state = State{}
		b.notify(b.state)
	}
	return b.state
}

func (b *Board) notify(s State) {
	if b.observe != nil {
		b.observe(s)
	}
}
