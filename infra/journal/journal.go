// Package journal keeps an append-only JSONL trail of execution outcomes,
// rotated by size and age. It is diagnostic output, separate from the
// durable schedule store.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kmoreau/plugsched/core/events"
	"github.com/kmoreau/plugsched/core/model"
)

// Config controls the journal file and its rotation.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "data/executions.jsonl"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 30
	}
}

// Record is one journal line.
type Record struct {
	Time          time.Time    `json:"time"`
	EntryID       string       `json:"entry_id"`
	DeviceAddress string       `json:"device_address"`
	DeviceName    string       `json:"device_name,omitempty"`
	Origin        model.Origin `json:"origin"`
	Status        model.Status `json:"status"`
	DesiredState  bool         `json:"desired_state"`
	Attempts      int          `json:"attempts"`
	Final         bool         `json:"final"`
	Error         string       `json:"error,omitempty"`
	LatencyMS     int64        `json:"latency_ms"`
}

// Journal writes execution records to a rotating JSONL file.
type Journal struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	now    func() time.Time
}

// New creates the journal, making parent directories as needed.
func New(cfg Config) (*Journal, error) {
	cfg.SetDefaults()
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return &Journal{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		now: time.Now,
	}, nil
}

// Append writes one record, rotating the file when needed.
func (j *Journal) Append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec.Time.IsZero() {
		rec.Time = j.now().UTC()
	}
	return json.NewEncoder(j.writer).Encode(rec)
}

// RecordExecution converts an execution event into a journal line.
func (j *Journal) RecordExecution(ev events.ExecutionEvent) error {
	rec := Record{
		EntryID:       ev.Entry.ID,
		DeviceAddress: ev.Entry.DeviceAddress,
		DeviceName:    ev.Entry.DeviceName,
		Origin:        ev.Entry.Origin,
		Status:        ev.Entry.Status,
		DesiredState:  ev.Entry.DesiredState,
		Attempts:      ev.Entry.Attempts,
		Final:         ev.Final,
		LatencyMS:     ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return j.Append(rec)
}

// Tail reads the most recent n records from the current journal file.
func (j *Journal) Tail(n int) ([]Record, error) {
	j.mu.Lock()
	path := j.writer.Filename
	j.mu.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writer.Close()
}
