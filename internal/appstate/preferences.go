package appstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Preferences is the persisted subset of State.
type Preferences struct {
	SelectedClass *string `json:"selectedClass"`
}

// SavePreferences writes the selected class to path, replacing it atomically.
func (s *State) SavePreferences(path string) error {
	data, err := json.Marshal(Preferences{SelectedClass: s.SelectedClass()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preferences-*")
	if err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadPreferences restores the selected class from path. A missing file
// leaves the state unchanged.
func (s *State) LoadPreferences(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode preferences: %w", err)
	}
	s.SetSelectedClass(p.SelectedClass)
	return nil
}
