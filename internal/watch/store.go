package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DocumentStore persists the serialized watch registry as a single document.
type DocumentStore interface {
	Load() ([]byte, error)
	Save(payload []byte) error
}

// FileStore keeps the registry document in one JSON file on disk.
type FileStore struct {
	path string
}

// NewFileStore builds a FileStore at path; parent directories are created on
// the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored document, or nil when none exists yet.
func (s *FileStore) Load() ([]byte, error) {
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Save writes the document atomically via a temp file rename.
func (s *FileStore) Save(payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
