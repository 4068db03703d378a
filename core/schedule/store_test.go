package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/infra/logger"
)

// memPersister keeps the entry set in memory and counts saves.
type memPersister struct {
	entries []model.ScheduleEntry
	loadErr error
	saves   atomic.Int64
}

func (m *memPersister) Load() ([]model.ScheduleEntry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]model.ScheduleEntry(nil), m.entries...), nil
}

func (m *memPersister) Save(entries []model.ScheduleEntry) error {
	m.entries = append([]model.ScheduleEntry(nil), entries...)
	m.saves.Add(1)
	return nil
}

func (m *memPersister) Close() error { return nil }

func openStore(t *testing.T, p *memPersister, now time.Time, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return now }),
		WithLocation(time.UTC),
	}, opts...)
	s, err := Open(p, logger.NopLogger{}, opts...)
	require.NoError(t, err)
	return s
}

func TestOpenFailsOnCorruptState(t *testing.T) {
	p := &memPersister{loadErr: errors.New("corrupt")}
	_, err := Open(p, logger.NopLogger{})
	assert.Error(t, err)
}

func TestCreateFillsDefaultsAndPersists(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &memPersister{}
	s := openStore(t, p, now)

	e, err := s.Create(model.ScheduleEntry{
		DeviceAddress: "192.168.1.10",
		TargetTime:    now.Add(time.Hour),
		DesiredState:  true,
		Origin:        model.OriginManual,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, model.StatusPending, e.Status)
	assert.Equal(t, now, e.CreatedAt)
	assert.EqualValues(t, 1, p.saves.Load())
}

func TestListPendingFiltersAndOrders(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)

	late, err := s.Create(model.ScheduleEntry{DeviceAddress: "a", TargetTime: now.Add(-time.Minute)})
	require.NoError(t, err)
	early, err := s.Create(model.ScheduleEntry{DeviceAddress: "a", TargetTime: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.Create(model.ScheduleEntry{DeviceAddress: "a", TargetTime: now.Add(time.Hour)})
	require.NoError(t, err)

	done, err := s.Create(model.ScheduleEntry{DeviceAddress: "a", TargetTime: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.MarkCompleted(done.ID)
	require.NoError(t, err)

	due := s.ListPending(now)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)
}

func TestTerminalEntriesAreImmutable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)

	e, err := s.Create(model.ScheduleEntry{DeviceAddress: "a", TargetTime: now})
	require.NoError(t, err)
	_, err = s.MarkCompleted(e.ID)
	require.NoError(t, err)

	_, err = s.MarkFailed(e.ID, "boom")
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = s.Cancel(e.ID)
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = s.RecordAttempt(e.ID, "boom", now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestRecordAttemptDelaysEligibility(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)

	e, err := s.Create(model.ScheduleEntry{DeviceAddress: "a", TargetTime: now.Add(-time.Minute)})
	require.NoError(t, err)

	updated, err := s.RecordAttempt(e.ID, "timeout", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Attempts)
	assert.Equal(t, "timeout", updated.LastError)
	assert.False(t, updated.Due(now))
	assert.True(t, updated.Due(now.Add(time.Minute)))
}

func recurringEntry(t *testing.T, s *Store) model.ScheduleEntry {
	t.Helper()
	e, err := s.CreateRecurring(model.ScheduleEntry{
		DeviceAddress: "192.168.1.10",
		DeviceName:    "heater",
		DesiredState:  true,
		Duration:      time.Hour,
	}, model.Recurrence{Frequency: model.FreqDaily, Interval: 1, TimeOfDay: "07:00"})
	require.NoError(t, err)
	return e
}

func TestMaterializeNextExactlyOnce(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)
	e := recurringEntry(t, s)

	next, created, err := s.MaterializeNext(e.ID)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, model.StatusPending, next.Status)
	assert.Equal(t, e.Recurrence.SeriesID, next.Recurrence.SeriesID)
	assert.True(t, next.TargetTime.After(e.TargetTime))

	_, created, err = s.MaterializeNext(e.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, s.List("192.168.1.10"), 2)
}

func TestMaterializeNextStopsAtEndDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	e, err := s.CreateRecurring(model.ScheduleEntry{DeviceAddress: "a"}, model.Recurrence{
		Frequency: model.FreqDaily,
		Interval:  1,
		TimeOfDay: "07:00",
		EndDate:   &end,
	})
	require.NoError(t, err)

	// First firing at 06-02 07:00, the next would fall past the end date.
	_, created, err := s.MaterializeNext(e.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, s.List("a"), 1)
}

func TestCancelRecurringMaterializesSuccessor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)
	e := recurringEntry(t, s)

	cancelled, err := s.Cancel(e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	entries := s.List("192.168.1.10")
	require.Len(t, entries, 2)
	assert.Equal(t, model.StatusPending, entries[1].Status)

	// Cancelling again must not fork the series.
	_, created, err := s.MaterializeNext(e.ID)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCancelSeriesKillsAllOccurrences(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)
	e := recurringEntry(t, s)

	n, err := s.CancelSeries(e.Recurrence.SeriesID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, entry := range s.List("") {
		assert.Equal(t, model.StatusCancelled, entry.Status)
	}
	assert.Len(t, s.List(""), 1)
}

func TestReplaceAutomaticSupersedesSameDayOnly(t *testing.T) {
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)
	day := now

	old := model.ScheduleEntry{
		DeviceAddress: "a",
		TargetTime:    now.Add(2 * time.Hour),
		Duration:      time.Hour,
		Origin:        model.OriginAutomatic,
	}
	require.NoError(t, s.ReplaceAutomatic("a", day, []model.ScheduleEntry{old}))

	manual, err := s.Create(model.ScheduleEntry{
		DeviceAddress: "a",
		TargetTime:    now.Add(12 * time.Hour),
		Duration:      time.Hour,
		Origin:        model.OriginManual,
	})
	require.NoError(t, err)

	fresh := model.ScheduleEntry{
		DeviceAddress: "a",
		TargetTime:    now.Add(4 * time.Hour),
		Duration:      time.Hour,
	}
	require.NoError(t, s.ReplaceAutomatic("a", day, []model.ScheduleEntry{fresh}))

	entries := s.List("a")
	require.Len(t, entries, 2)
	ids := []string{entries[0].ID, entries[1].ID}
	assert.Contains(t, ids, manual.ID)
	for _, e := range entries {
		if e.ID != manual.ID {
			assert.Equal(t, model.OriginAutomatic, e.Origin)
			assert.Equal(t, now.Add(4*time.Hour), e.TargetTime)
		}
	}
}

func TestReplaceAutomaticRejectsOverlap(t *testing.T) {
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	s := openStore(t, &memPersister{}, now)

	_, err := s.Create(model.ScheduleEntry{
		DeviceAddress: "a",
		TargetTime:    now.Add(3 * time.Hour),
		Duration:      2 * time.Hour,
		Origin:        model.OriginManual,
	})
	require.NoError(t, err)

	clash := model.ScheduleEntry{
		DeviceAddress: "a",
		TargetTime:    now.Add(4 * time.Hour),
		Duration:      time.Hour,
	}
	err = s.ReplaceAutomatic("a", now, []model.ScheduleEntry{clash})
	assert.ErrorIs(t, err, ErrConflict)
	// The store is left untouched.
	assert.Len(t, s.List("a"), 1)
}

func TestPurgeExpiredDropsAllStatuses(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	p := &memPersister{entries: []model.ScheduleEntry{
		{ID: "old-pending", Status: model.StatusPending, CreatedAt: now.AddDate(0, 0, -8)},
		{ID: "old-done", Status: model.StatusCompleted, CreatedAt: now.AddDate(0, 0, -8)},
		{ID: "recent", Status: model.StatusCompleted, CreatedAt: now.AddDate(0, 0, -1)},
	}}
	s := openStore(t, p, now)

	removed, err := s.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries := s.List("")
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].ID)
}
