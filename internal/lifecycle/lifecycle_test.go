package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/toucan/internal/indicator"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

type fakeRenderer struct {
	mu         sync.Mutex
	frames     []indicator.State
	cleanups   int
	renderErr  error
	cleanupErr error
}

func (r *fakeRenderer) Render(s indicator.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, s)
	return r.renderErr
}

func (r *fakeRenderer) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups++
	return r.cleanupErr
}

type fakeResetter struct {
	calls int
	err   error
}

func (f *fakeResetter) Reset() (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

func TestShutdownClearsEverything(t *testing.T) {
	store, err := indicator.NewFileStore(filepath.Join(t.TempDir(), indicator.DefaultFileName))
	require.NoError(t, err)
	rec := &fakeRenderer{}
	board, err := indicator.OpenBoard(store, rec)
	require.NoError(t, err)
	_, err = board.Set(protocol.SSH, true)
	require.NoError(t, err)
	require.True(t, store.Exists())

	c := New(board, rec, store)
	assert.Equal(t, Running, c.Phase())
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, ShuttingDown, c.Phase())

	assert.Equal(t, indicator.State{}, rec.frames[len(rec.frames)-1], "last frame is all off")
	assert.Equal(t, 1, rec.cleanups)
	assert.False(t, store.Exists(), "snapshot removed")

	_, err = board.Set(protocol.HTTP, true)
	assert.ErrorIs(t, err, indicator.ErrClosed)
	assert.False(t, store.Exists(), "no update re-creates the snapshot")
}

func TestShutdownRunsOnce(t *testing.T) {
	rec := &fakeRenderer{}
	resetter := &fakeResetter{}
	c := New(nil, rec, resetter)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Shutdown(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Equal(t, 1, rec.cleanups)
	assert.Len(t, rec.frames, 1)
	assert.Equal(t, 1, resetter.calls)
}

func TestShutdownIsBestEffort(t *testing.T) {
	renderErr := errors.New("spi write")
	cleanupErr := errors.New("gpio halt")
	resetErr := errors.New("read-only fs")

	rec := &fakeRenderer{renderErr: renderErr, cleanupErr: cleanupErr}
	resetter := &fakeResetter{err: resetErr}
	c := New(nil, rec, resetter)

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, renderErr)
	assert.ErrorIs(t, err, cleanupErr)
	assert.ErrorIs(t, err, resetErr)

	assert.Equal(t, 1, rec.cleanups, "cleanup runs after a failed render")
	assert.Equal(t, 1, resetter.calls, "reset runs after a failed cleanup")

	assert.Equal(t, err, c.Shutdown(context.Background()), "later calls return the first result")
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "RUNNING", Running.String())
	assert.Equal(t, "SHUTTING_DOWN", ShuttingDown.String())
}
