package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Device modes. Manual removes the device from daily planning while
// keeping it reachable for manual actions and existing entries.
const (
	ModeAutomatic = "automatic"
	ModeManual    = "manual"
)

// ModesConfig locates the persisted mode overlay.
type ModesConfig struct {
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *ModesConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "data/modes.json"
	}
}

// ModeStore persists per-device modes in a small JSON file, separate from
// the main config so toggles survive config rewrites.
type ModeStore struct {
	mu   sync.Mutex
	path string
}

// NewModeStore returns a store over the given file path.
func NewModeStore(path string) *ModeStore {
	return &ModeStore{path: path}
}

// Load reads the mode map. A missing file means no overrides.
func (s *ModeStore) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	modes := make(map[string]string)
	if err := json.Unmarshal(data, &modes); err != nil {
		return nil, fmt.Errorf("failed to parse mode file %s: %w", s.path, err)
	}
	return modes, nil
}

// Set records the mode for one device address and rewrites the file
// atomically.
func (s *ModeStore) Set(address, mode string) error {
	if mode != ModeAutomatic && mode != ModeManual {
		return fmt.Errorf("unknown mode %q", mode)
	}
	modes, err := s.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	modes[address] = mode

	data, err := json.MarshalIndent(modes, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".modes-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
