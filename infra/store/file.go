// Package store provides the durable backings of the schedule store: a
// JSON file with atomic replace, and a SQLite database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kmoreau/plugsched/core/model"
)

// FilePersister keeps the full schedule in one JSON file. Every save
// writes a temp file, fsyncs it and renames it over the old version, so a
// crash mid-write never leaves a torn file behind.
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister prepares a persister at path, creating parent
// directories as needed.
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create schedule directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Load reads the full entry set. A missing file is an empty schedule; an
// unreadable or malformed file is an error for the caller to treat as
// fatal.
func (p *FilePersister) Load() ([]model.ScheduleEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []model.ScheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt schedule file %s: %w", p.path, err)
	}
	return entries, nil
}

// Save atomically replaces the stored entry set.
func (p *FilePersister) Save(entries []model.ScheduleEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

// Close is a no-op for the file backend.
func (p *FilePersister) Close() error { return nil }
