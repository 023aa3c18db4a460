package indicator

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/toucan/internal/protocol"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state", DefaultFileName))
	require.NoError(t, err)
	return s
}

func saveState(t *testing.T, s *FileStore, state State) {
	t.Helper()
	require.NoError(t, s.withLock("save", func() error { return s.save(state) }))
}

func writeRaw(t *testing.T, path, payload string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))
}

func TestLoadMissingIsAllOff(t *testing.T) {
	s := newTestStore(t)

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, State{}, state)
	assert.Len(t, state, protocol.Count)
	assert.False(t, s.Exists())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := State{true, false, true, false, false, true, false, true}
	saveState(t, s, want)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not outlive save")
}

func TestSetPreservesOtherSlots(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Set(protocol.SSH, true)
	require.NoError(t, err)
	state, err := s.Set(protocol.MySQL, true)
	require.NoError(t, err)

	assert.Equal(t, []protocol.Label{protocol.SSH, protocol.MySQL}, state.Active())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	state, err = s.Set(protocol.SSH, false)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Label{protocol.MySQL}, state.Active())
}

func TestSetUnknownProtocol(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Set("telnet", true)
	require.Error(t, err)
	assert.False(t, s.Exists())
}

func TestConcurrentSetLosesNoUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)

	// Separate stores share nothing in memory, so only the flock serializes them.
	var wg sync.WaitGroup
	for _, l := range protocol.All() {
		store, err := NewFileStore(path)
		require.NoError(t, err)
		wg.Add(1)
		go func(l protocol.Label, store *FileStore) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				if _, err := store.Set(l, true); err != nil {
					t.Errorf("Set(%s) #%d: %v", l, n, err)
					return
				}
			}
		}(l, store)
	}
	wg.Wait()

	s, err := NewFileStore(path)
	require.NoError(t, err)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.All(), state.Active())
}

func TestResetRemovesRecord(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Set(protocol.HTTP, true)
	require.NoError(t, err)
	require.True(t, s.Exists())

	removed, err := s.Reset()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Exists())

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Empty(t, entries, "reset must not leave residual files")

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, State{}, state)

	removed, err = s.Reset()
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLoadLegacyIntegerRecord(t *testing.T) {
	s := newTestStore(t)
	writeRaw(t, s.Path(), "[0, 1, 0, 0, 0, 0, 0, 1]")

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []protocol.Label{protocol.SSH, protocol.Git}, state.Active())
}

func TestLoadCorruptRecord(t *testing.T) {
	tests := map[string]string{
		"not json":     "{",
		"wrong length": "[true, false]",
		"wrong type":   `["on", false, false, false, false, false, false, false]`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			writeRaw(t, s.Path(), payload)

			_, err := s.Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)

			var storeErr *StoreError
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, "decode", storeErr.Op)
		})
	}
}

func TestNewFileStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewFileStore("  ")
	assert.Error(t, err)
}
