package updaterstate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/debojyoti452/shorebird/pkg/updater/statemanager"
	"github.com/debojyoti452/shorebird/pkg/updater/updatererror"
)

// StateFileName is the name of the state file inside the cache directory.
const StateFileName = "state.json"

// stateFile is the on-disk layout of State.
type stateFile struct {
	FailedPatches     []string `json:"failed_patches"`
	SuccessfulPatches []string `json:"successful_patches"`
	CurrentSlotIndex  int      `json:"current_slot_index"`
	Slots             []Slot   `json:"slots"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateFile{
		FailedPatches:     nonNil(s.failedPatches),
		SuccessfulPatches: nonNil(s.successfulPatches),
		CurrentSlotIndex:  s.currentSlotIndex,
		Slots:             nonNil(s.slots),
	})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.failedPatches = nonNil(f.FailedPatches)
	s.successfulPatches = nonNil(f.SuccessfulPatches)
	s.currentSlotIndex = f.CurrentSlotIndex
	s.slots = nonNil(f.Slots)
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// StatePath returns the location of the state file in cacheDir.
func StatePath(cacheDir string) string {
	return filepath.Join(cacheDir, StateFileName)
}

// Load reads the state from cacheDir.
// Errors are of kind ErrNotFound, ErrDeserialize or ErrIO.
func Load(cacheDir string) (*State, error) {
	p := StatePath(cacheDir)
	state, err := statemanager.Read[State](p)
	if err != nil {
		return nil, ClassifyError(err)
	}
	log.Debugf("loaded updater state from %q", p)
	return &state, nil
}

// LoadOrNew reads the state from cacheDir or returns a fresh state if there is none.
func LoadOrNew(cacheDir string) (*State, error) {
	state, err := Load(cacheDir)
	if errors.Is(err, updatererror.ErrNotFound) {
		log.Debugf("no updater state in %q, starting fresh", cacheDir)
		return New(), nil
	}
	return state, err
}

// Save writes the state to cacheDir, creating the directory if needed.
func (s *State) Save(cacheDir string) error {
	if err := statemanager.Write(StatePath(cacheDir), s); err != nil {
		return updatererror.New(updatererror.ErrIO, err)
	}
	return nil
}

// ClassifyError maps an error from reading or writing the state file to an updater error kind.
// Errors that already carry a kind are returned unchanged.
func ClassifyError(err error) error {
	if err == nil || updatererror.KindOf(err) != nil {
		return err
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, os.ErrNotExist):
		return updatererror.New(updatererror.ErrNotFound, err)
	case errors.Is(err, statemanager.ErrEmptyState), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return updatererror.New(updatererror.ErrDeserialize, err)
	default:
		return updatererror.New(updatererror.ErrIO, err)
	}
}

// NewManager returns a manager for the state file in cacheDir.
// It starts from a fresh state if the file does not exist yet.
func NewManager(cacheDir string) (*statemanager.Manager[State], error) {
	m, err := statemanager.NewFromDisk(*New(), StatePath(cacheDir))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return m, nil
}
