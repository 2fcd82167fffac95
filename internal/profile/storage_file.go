package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nlink_desk/internal/shared/logger"
)

// FileStorage keeps the State in a single JSON file.
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage creates a FileStorage backed by filePath.
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{filePath: filePath}
}

// Load reads the state file. A missing file yields a nil state.
func (fs *FileStorage) Load() (*State, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("Profiles/Storage")

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Profile file not found, starting empty.")
			return nil, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fs.filePath, err)
	}
	l.Info().Int("count", len(state.Profiles)).Msg("Loaded profiles from file.")
	return &state, nil
}

// Save writes the state to a temporary file and renames it over the old one, so a
// crash never leaves a truncated file behind.
func (fs *FileStorage) Save(state *State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		os.Remove(tmpName)
		return err
	}

	l := logger.WithComponent("Profiles/Storage")
	l.Debug().Int("count", len(state.Profiles)).Msg("Saved profiles to file.")
	return nil
}

func (fs *FileStorage) Close() error { return nil }
