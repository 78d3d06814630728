package resilience

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store is the persistence boundary for admission state. The runtime calls
// Load at entry and Save at exit; the caller picks the backing medium and is
// responsible for serializing concurrent runs against the same store.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore keeps the admission record in a single JSON file, written
// atomically via temp file + rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Reset(), nil
		}
		return State{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}, err
	}
	return FromMap(raw), nil
}

func (f *FileStore) Save(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.Normalize(), "", "  ")
	if err != nil {
		return err
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, f.path)
}
