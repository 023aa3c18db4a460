package indicator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tinytelemetry/toucan/internal/protocol"
)

const (
	// DefaultFileName is the snapshot file name inside the state directory.
	DefaultFileName = "status.json"

	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// FileStore persists a State as a JSON array of booleans.
//
// Set and Reset hold an exclusive flock(2) on the state directory for the
// whole read-modify-write, so concurrent callers in this process and in
// other toucan processes never lose an update. The directory is locked
// instead of a sidecar file so that Reset leaves nothing behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store writing to path. The parent directory is
// created on first write.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("indicator: state path is empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

// Load returns the persisted state, or all-off when nothing is persisted.
func (s *FileStore) Load() (State, error) {
	return s.load()
}

// Set turns one slot on or off as a single locked load-modify-save.
func (s *FileStore) Set(l protocol.Label, on bool) (State, error) {
	var result State
	err := s.withLock("set", func() error {
		cur, err := s.load()
		if err != nil {
			return err
		}
		next, ok := cur.With(l, on)
		if !ok {
			return fmt.Errorf("indicator: unknown protocol %q", l)
		}
		if err := s.save(next); err != nil {
			return err
		}
		result = next
		return nil
	})
	return result, err
}

// Reset deletes the persisted state. It reports whether a record existed.
// A following Load returns a fresh all-off state.
func (s *FileStore) Reset() (bool, error) {
	removed := false
	err := s.withLock("reset", func() error {
		err := os.Remove(s.path)
		switch {
		case err == nil:
			removed = true
			return nil
		case errors.Is(err, os.ErrNotExist):
			return nil
		default:
			return &StoreError{Op: "remove", Path: s.path, Err: err}
		}
	})
	return removed, err
}

// Exists reports whether a snapshot is currently on disk.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *FileStore) load() (State, error) {
	var state State

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, &StoreError{Op: "read", Path: s.path, Err: err}
	}

	state, err = decodeState(data)
	if err != nil {
		return State{}, &StoreError{Op: "decode", Path: s.path, Err: err}
	}
	return state, nil
}

// decodeState accepts booleans or 0/1 integers. Snapshots written by the
// older shell tooling use integers.
func decodeState(data []byte) (State, error) {
	var state State

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return state, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != protocol.Count {
		return state, fmt.Errorf("%w: %d slots, want %d", ErrCorrupt, len(raw), protocol.Count)
	}
	for i, v := range raw {
		switch x := v.(type) {
		case bool:
			state[i] = x
		case json.Number:
			state[i] = x.String() != "0"
		default:
			return State{}, fmt.Errorf("%w: slot %d has type %T", ErrCorrupt, i, v)
		}
	}
	return state, nil
}

func (s *FileStore) save(state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return &StoreError{Op: "encode", Path: s.path, Err: err}
	}
	payload = append(payload, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, defaultFileMode); err != nil {
		return &StoreError{Op: "write", Path: tmp, Err: err}
	}

	f, err := os.OpenFile(tmp, os.O_RDWR, defaultFileMode)
	if err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Op: "open", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &StoreError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Op: "close", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

func (s *FileStore) withLock(op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return &StoreError{Op: op, Path: dir, Err: err}
	}
	d, err := os.Open(dir)
	if err != nil {
		return &StoreError{Op: op, Path: dir, Err: err}
	}
	defer d.Close()

	fd := int(d.Fd())
	for {
		err = unix.Flock(fd, unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return &StoreError{Op: "lock", Path: dir, Err: err}
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	return fn()
}
