package gallery

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rdevng/salesforce-face-recognition-api/recognize"
)

// Store persists the full gallery sample set.
type Store interface {
	Load() ([]recognize.FaceInfo, error)
	Save(faces []recognize.FaceInfo) error
	Close() error
}

// FileStore keeps the gallery in a single JSON file (faces.json by
// default).
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored samples. A missing file is an empty gallery,
// not an error.
func (s *FileStore) Load() ([]recognize.FaceInfo, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", s.path, err)
	}

	var faces []recognize.FaceInfo
	if err := json.Unmarshal(data, &faces); err != nil {
		return nil, fmt.Errorf("parse %q: %w", s.path, err)
	}

	return faces, nil
}

func (s *FileStore) Save(faces []recognize.FaceInfo) error {
	data, err := json.Marshal(faces)
	if err != nil {
		return fmt.Errorf("marshal faces: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write %q: %w", s.path, err)
	}

	return nil
}

func (s *FileStore) Close() error {
	return nil
}
