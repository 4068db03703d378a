package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/core/schedule"
)

func sampleEntries() []model.ScheduleEntry {
	return []model.ScheduleEntry{
		{
			ID:            "one",
			DeviceAddress: "192.168.1.10",
			TargetTime:    time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
			DesiredState:  true,
			Duration:      2 * time.Hour,
			Origin:        model.OriginAutomatic,
			Status:        model.StatusPending,
			CreatedAt:     time.Date(2025, 5, 31, 22, 0, 0, 0, time.UTC),
		},
		{
			ID:            "two",
			DeviceAddress: "192.168.1.11",
			TargetTime:    time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC),
			Origin:        model.OriginManual,
			Status:        model.StatusCompleted,
			CreatedAt:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func roundTrip(t *testing.T, p schedule.Persister) {
	t.Helper()
	want := sampleEntries()
	require.NoError(t, p.Save(want))

	got, err := p.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].ID, got[0].ID)
	assert.True(t, want[0].TargetTime.Equal(got[0].TargetTime))
	assert.Equal(t, want[0].Duration, got[0].Duration)
	assert.Equal(t, want[1].Status, got[1].Status)
}

func TestFilePersisterRoundTrip(t *testing.T) {
	p, err := NewFilePersister(filepath.Join(t.TempDir(), "nested", "schedule.json"))
	require.NoError(t, err)
	roundTrip(t, p)
}

func TestFilePersisterMissingFileIsEmpty(t *testing.T) {
	p, err := NewFilePersister(filepath.Join(t.TempDir(), "schedule.json"))
	require.NoError(t, err)

	entries, err := p.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilePersisterCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	p, err := NewFilePersister(path)
	require.NoError(t, err)
	_, err = p.Load()
	assert.Error(t, err)
}

func TestFilePersisterLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersister(filepath.Join(dir, "schedule.json"))
	require.NoError(t, err)
	require.NoError(t, p.Save(sampleEntries()))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "schedule.json", files[0].Name())
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	p, err := NewSQLitePersister(filepath.Join(t.TempDir(), "schedule.db"))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	roundTrip(t, p)
}

func TestSQLitePersisterSaveReplacesAll(t *testing.T) {
	p, err := NewSQLitePersister(filepath.Join(t.TempDir(), "schedule.db"))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	require.NoError(t, p.Save(sampleEntries()))
	require.NoError(t, p.Save(sampleEntries()[:1]))

	entries, err := p.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].ID)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	p, err := New(Config{Backend: "file", Path: filepath.Join(dir, "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FilePersister{}, p)

	p, err = New(Config{Backend: "sqlite", Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLitePersister{}, p)
	require.NoError(t, p.Close())

	_, err = New(Config{Backend: "redis"})
	assert.Error(t, err)
}
