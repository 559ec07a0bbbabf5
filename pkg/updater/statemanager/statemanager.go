package statemanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/debojyoti452/shorebird/internal/pkg/utils/fileutils"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/funcutils"
)

// ErrEmptyState is returned when the state file exists but holds no data.
var ErrEmptyState = errors.New("state file is empty")

// lockPath is shared by every reader and writer of the state file at p.
func lockPath(p string) string {
	return p + ".lock"
}

// Read acquires a shared lock, then reads and decodes the JSON state at p.
// A missing file yields an error matching os.ErrNotExist.
// Taking the lock creates p+".lock". If that is not possible, e.g. on a
// read-only mount, the file is read without the lock.
func Read[T any](p string) (T, error) {
	var state T
	exists, _, err := fileutils.ExistsAndIsDirectory(filepath.Dir(p))
	if err != nil {
		return state, err
	}
	if !exists {
		// do not create the directory just to take a read lock
		return state, fmt.Errorf("unable to open file: %s, %w", p, os.ErrNotExist)
	}
	fileLock := flock.New(lockPath(p))
	if err := fileLock.RLock(); err != nil {
		// writers replace the file by rename, an unlocked read still sees a complete state
		log.WithError(err).Debugf("reading %q without lock", p)
	} else {
		defer funcutils.PanicOrLogOnErr(fileLock.Unlock, false, "failed to release state lock")
	}
	ok, err := fileutils.SafeReadJSON(p, &state)
	if err != nil {
		return state, err
	}
	if !ok {
		return state, ErrEmptyState
	}
	return state, nil
}

// Write acquires an exclusive lock, then atomically replaces the state at p.
// The parent directory is created if needed.
func Write[T any](p string, state *T) error {
	if err := fileutils.EnsureDir(filepath.Dir(p)); err != nil {
		return err
	}
	fileLock := flock.New(lockPath(p))
	if err := fileLock.Lock(); err != nil {
		return err
	}
	defer funcutils.PanicOrLogOnErr(fileLock.Unlock, false, "failed to release state lock")
	return fileutils.SafeWriteJSON(p, state)
}

// Manager is a generic wrapper around a state object T which is serialized to the storage as JSON.
// It provides ways to safely mutate the state, backed by file locks.
type Manager[T any] struct {
	state T
	path  string
}

// New initializes a state manager with the provided state and overwrites existing state.
func New[T any](initialState T, p string) (*Manager[T], error) {
	m := Manager[T]{
		state: initialState,
		path:  p,
	}
	if err := m.Commit(); err != nil {
		log.WithError(err).Debug("failed to initialize state")
		return nil, err
	}
	return &m, nil
}

// NewFromDisk initializes a state manager with the state that exists on disk.
// If nothing is found on the disk it uses the provided default.
func NewFromDisk[T any](defaultState T, p string) (*Manager[T], error) {
	m := Manager[T]{
		state: defaultState,
		path:  p,
	}
	if _, err := m.Load(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Path returns the location of the state file.
func (m *Manager[T]) Path() string {
	return m.path
}

// State returns a pointer to the in-memory state.
// Changes made through it are persisted by the next Commit.
func (m *Manager[T]) State() *T {
	return &m.state
}

// Commit atomically writes the current state to the file.
func (m *Manager[T]) Commit() error {
	return Write(m.path, &m.state)
}

// Load reads the state from the file.
// The in-memory state is kept if the file does not exist or is empty,
// a corrupted file is reported as an error.
func (m *Manager[T]) Load() (*T, error) {
	state, err := Read[T](m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrEmptyState) {
			return &m.state, nil
		}
		return nil, err
	}
	m.state = state
	return &m.state, nil
}

// ModifyState acquires an exclusive lock and loads the current state.
// It then calls the callback function on the state to modify it before writing back to disk.
// The state on disk and in memory is left unchanged if the callback fails.
func (m *Manager[T]) ModifyState(cb func(*T) error) error {
	if err := fileutils.EnsureDir(filepath.Dir(m.path)); err != nil {
		return err
	}
	fileLock := flock.New(lockPath(m.path))
	if err := fileLock.Lock(); err != nil {
		return err
	}
	defer funcutils.PanicOrLogOnErr(fileLock.Unlock, false, "failed to release state lock")
	var state T
	ok, err := fileutils.SafeReadJSON(m.path, &state)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if !ok {
		// nothing on disk, work on a copy of the in-memory state
		if state, err = clone(m.state); err != nil {
			return err
		}
	}
	if err := cb(&state); err != nil {
		return err
	}
	if err := fileutils.SafeWriteJSON(m.path, &state); err != nil {
		return err
	}
	m.state = state
	return nil
}

func clone[T any](t T) (T, error) {
	var out T
	data, err := json.Marshal(t)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(data, &out)
}
