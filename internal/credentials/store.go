package credentials

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Data is everything persisted between runs: the last selected provider and
// one API key per provider name.
type Data struct {
	SelectedProvider string            `json:"selectedProvider,omitempty"`
	APIKeys          map[string]string `json:"apiKeys,omitempty"`
}

// Store defines persistence operations for saved credentials.
type Store interface {
	Load() (Data, error)
	Save(Data) error
}

// JSONStore persists credentials in a single JSON file on disk.
type JSONStore struct {
	mu   sync.Mutex
	path string
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Path() string {
	return s.path
}

// Load reads the file, returning empty data when it does not exist yet.
func (s *JSONStore) Load() (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Data{APIKeys: map[string]string{}}, nil
		}
		return Data{}, err
	}

	var d Data
	if err := json.Unmarshal(data, &d); err != nil {
		return Data{}, err
	}
	if d.APIKeys == nil {
		d.APIKeys = map[string]string{}
	}
	return d, nil
}

// Save replaces the file atomically. The file holds secrets, so it is only
// readable by the owner.
func (s *JSONStore) Save(d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// MemoryStore keeps credentials in process memory only.
type MemoryStore struct {
	mu   sync.Mutex
	data Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: Data{APIKeys: map[string]string{}}}
}

func (s *MemoryStore) Load() (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.data), nil
}

func (s *MemoryStore) Save(d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = clone(d)
	return nil
}

func clone(d Data) Data {
	keys := make(map[string]string, len(d.APIKeys))
	for k, v := range d.APIKeys {
		keys[k] = v
	}
	return Data{SelectedProvider: d.SelectedProvider, APIKeys: keys}
}
