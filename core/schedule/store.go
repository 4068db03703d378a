package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kmoreau/plugsched/core/logger"
	"github.com/kmoreau/plugsched/core/model"
)

// DefaultRetention is how long entries are kept after creation.
const DefaultRetention = 7 * 24 * time.Hour

var (
	// ErrNotFound means no entry exists with the given id.
	ErrNotFound = errors.New("schedule entry not found")
	// ErrTerminal means the entry already reached a terminal status.
	ErrTerminal = errors.New("schedule entry is terminal")
	// ErrConflict means a new automatic window overlaps an existing entry
	// for the same device and day.
	ErrConflict = errors.New("schedule conflict")
)

// Persister is the durable backing of the store. Load is called once at
// startup; Save rewrites the full entry set after each mutation batch.
type Persister interface {
	Load() ([]model.ScheduleEntry, error)
	Save(entries []model.ScheduleEntry) error
	Close() error
}

// Store keeps the full schedule in memory, guarded by its own lock, and
// pushes every mutation batch through the persister before returning.
type Store struct {
	mu        sync.Mutex
	persister Persister
	entries   []model.ScheduleEntry
	log       logger.Logger
	now       func() time.Time
	retention time.Duration
	loc       *time.Location
}

// Option adjusts a Store at construction time.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention overrides the retention window for purges.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithLocation sets the timezone used to evaluate recurrence rules and
// calendar-day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// Open loads the persisted schedule and returns a ready store. A load
// failure is returned as-is; unreadable state at startup is fatal to the
// caller, not silently reset.
func Open(p Persister, log logger.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		persister: p,
		log:       log,
		now:       time.Now,
		retention: DefaultRetention,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	entries, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule store: %w", err)
	}
	s.entries = entries
	return s, nil
}

// Close flushes nothing (every mutation already persisted) and releases
// the persister.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persister.Close()
}

// Create appends a one-off entry. Missing id, status and creation time are
// filled in.
func (s *Store) Create(e model.ScheduleEntry) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = model.StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e.TargetTime = e.TargetTime.UTC()

	s.entries = append(s.entries, e)
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, err
	}
	s.log.Infof("Created schedule entry [id=%s, device=%s, target=%s, origin=%s]",
		e.ID, e.DeviceAddress, e.TargetTime.Format(time.RFC3339), e.Origin)
	return e, nil
}

// CreateRecurring validates the rule, computes the first occurrence and
// appends the series head. Every occurrence of the series shares the
// generated series id.
func (s *Store) CreateRecurring(e model.ScheduleEntry, rule model.Recurrence) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if err := ValidateRecurrence(rule, now); err != nil {
		return model.ScheduleEntry{}, err
	}
	first, ok := NextOccurrence(rule, now, s.loc)
	if !ok {
		return model.ScheduleEntry{}, fmt.Errorf("recurrence has no future occurrence")
	}
	if rule.SeriesID == "" {
		rule.SeriesID = uuid.New().String()
	}

	e.ID = uuid.New().String()
	e.TargetTime = first
	e.Origin = model.OriginManual
	e.Status = model.StatusPending
	e.CreatedAt = now
	e.Recurrence = &rule

	s.entries = append(s.entries, e)
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, err
	}
	s.log.Infof("Created recurring schedule [id=%s, device=%s, series=%s, first=%s]",
		e.ID, e.DeviceAddress, rule.SeriesID, first.Format(time.RFC3339))
	return e, nil
}

// ListPending returns pending entries with a target at or before the given
// instant, ordered by target time.
func (s *Store) ListPending(before time.Time) []model.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScheduleEntry
	for _, e := range s.entries {
		if e.Status == model.StatusPending && !e.TargetTime.After(before) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTime.Before(out[j].TargetTime) })
	return out
}

// List returns every stored entry, optionally filtered by device address.
func (s *Store) List(deviceAddress string) []model.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScheduleEntry
	for _, e := range s.entries {
		if deviceAddress == "" || e.DeviceAddress == deviceAddress {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.ScheduleEntry{}, ErrNotFound
	}
	return s.entries[i], nil
}

// MarkCompleted transitions a pending entry to completed.
func (s *Store) MarkCompleted(id string) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.ScheduleEntry{}, ErrNotFound
	}
	if s.entries[i].Status.Terminal() {
		return model.ScheduleEntry{}, ErrTerminal
	}
	s.entries[i].Status = model.StatusCompleted
	s.entries[i].ExecutedAt = s.now().UTC()
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, err
	}
	return s.entries[i], nil
}

// MarkFailed transitions a pending entry to failed with the final error.
func (s *Store) MarkFailed(id, cause string) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.ScheduleEntry{}, ErrNotFound
	}
	if s.entries[i].Status.Terminal() {
		return model.ScheduleEntry{}, ErrTerminal
	}
	s.entries[i].Status = model.StatusFailed
	s.entries[i].LastError = cause
	s.entries[i].FailedAt = s.now().UTC()
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, err
	}
	s.log.Warnf("Schedule entry failed [id=%s, device=%s, attempts=%d, error=%s]",
		id, s.entries[i].DeviceAddress, s.entries[i].Attempts, cause)
	return s.entries[i], nil
}

// RecordAttempt increments the attempt counter after a failed execution
// and delays re-eligibility until nextRetry.
func (s *Store) RecordAttempt(id, cause string, nextRetry time.Time) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.ScheduleEntry{}, ErrNotFound
	}
	if s.entries[i].Status.Terminal() {
		return model.ScheduleEntry{}, ErrTerminal
	}
	s.entries[i].Attempts++
	s.entries[i].LastError = cause
	s.entries[i].NextRetryAt = nextRetry.UTC()
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, err
	}
	return s.entries[i], nil
}

// Cancel transitions a pending entry to cancelled. A cancelled recurring
// occurrence still yields exactly one follow-up occurrence, so cancelling
// one firing does not kill the series.
func (s *Store) Cancel(id string) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.ScheduleEntry{}, ErrNotFound
	}
	if s.entries[i].Status.Terminal() {
		return model.ScheduleEntry{}, ErrTerminal
	}
	s.entries[i].Status = model.StatusCancelled
	s.entries[i].CancelledAt = s.now().UTC()
	s.materializeLocked(i)
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, err
	}
	s.log.Infof("Cancelled schedule entry [id=%s, device=%s]", id, s.entries[i].DeviceAddress)
	return s.entries[i], nil
}

// CancelSeries cancels every pending occurrence of a recurring series
// without materializing a successor. Returns the number cancelled.
func (s *Store) CancelSeries(seriesID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	n := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status != model.StatusPending || e.Recurrence == nil || e.Recurrence.SeriesID != seriesID {
			continue
		}
		e.Status = model.StatusCancelled
		e.CancelledAt = now
		e.NextMaterialized = true
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.persist(); err != nil {
		return 0, err
	}
	s.log.Infof("Cancelled recurring series [series=%s, count=%d]", seriesID, n)
	return n, nil
}

// MaterializeNext creates the next occurrence of a recurring entry after
// it fired. It is idempotent per source entry: the follow-up is created at
// most once, and never once the rule's end date has passed.
func (s *Store) MaterializeNext(id string) (model.ScheduleEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return model.ScheduleEntry{}, false, ErrNotFound
	}
	created := s.materializeLocked(i)
	if err := s.persist(); err != nil {
		return model.ScheduleEntry{}, false, err
	}
	if !created {
		return model.ScheduleEntry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

// materializeLocked appends the follow-up occurrence for entry i when one
// is owed. Caller holds the lock and persists.
func (s *Store) materializeLocked(i int) bool {
	src := &s.entries[i]
	if src.Recurrence == nil || src.NextMaterialized {
		return false
	}
	src.NextMaterialized = true

	next, ok := NextOccurrence(*src.Recurrence, src.TargetTime, s.loc)
	if !ok {
		s.log.Infof("Recurring series ended [series=%s, device=%s]",
			src.Recurrence.SeriesID, src.DeviceAddress)
		return false
	}
	rule := *src.Recurrence
	s.entries = append(s.entries, model.ScheduleEntry{
		ID:            uuid.New().String(),
		DeviceAddress: src.DeviceAddress,
		DeviceName:    src.DeviceName,
		TargetTime:    next,
		DesiredState:  src.DesiredState,
		Duration:      src.Duration,
		Origin:        src.Origin,
		Status:        model.StatusPending,
		CreatedAt:     s.now().UTC(),
		Recurrence:    &rule,
	})
	s.log.Infof("Materialized next occurrence [series=%s, device=%s, next=%s]",
		rule.SeriesID, src.DeviceAddress, next.Format(time.RFC3339))
	return true
}

// ReplaceAutomatic swaps the device's not-yet-executed automatic entries
// for the given calendar day with the freshly computed set. Manual and
// historical entries are untouched. A new entry overlapping a remaining
// pending entry for the same device rejects the whole batch.
func (s *Store) ReplaceAutomatic(deviceAddress string, day time.Time, entries []model.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	kept := make([]model.ScheduleEntry, 0, len(s.entries)+len(entries))
	for _, e := range s.entries {
		drop := e.DeviceAddress == deviceAddress &&
			e.Origin == model.OriginAutomatic &&
			e.Status == model.StatusPending &&
			model.SameDay(e.TargetTime.In(s.loc), day) &&
			!e.TargetTime.Before(now)
		if !drop {
			kept = append(kept, e)
		}
	}

	// Reject the whole batch on any overlap, leaving the store untouched.
	windows := make([]model.Window, 0, len(entries))
	for _, e := range entries {
		windows = append(windows, model.Window{Start: e.TargetTime, Duration: e.Duration})
	}
	if !model.Disjoint(windows) {
		return fmt.Errorf("%w: automatic windows overlap for device %s", ErrConflict, deviceAddress)
	}
	for _, existing := range kept {
		if existing.DeviceAddress != deviceAddress || existing.Status != model.StatusPending {
			continue
		}
		ew := model.Window{Start: existing.TargetTime, Duration: existing.Duration}
		for _, w := range windows {
			if ew.Overlaps(w) {
				return fmt.Errorf("%w: window at %s overlaps entry %s", ErrConflict,
					w.Start.Format(time.RFC3339), existing.ID)
			}
		}
	}

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.Origin = model.OriginAutomatic
		e.Status = model.StatusPending
		e.CreatedAt = now
		e.TargetTime = e.TargetTime.UTC()
		kept = append(kept, e)
	}
	s.entries = kept
	if err := s.persist(); err != nil {
		return err
	}
	s.log.Infof("Replaced automatic schedule [device=%s, day=%s, count=%d]",
		deviceAddress, day.Format("2006-01-02"), len(entries))
	return nil
}

// PurgeExpired drops entries created before the retention window,
// regardless of status. Returns the number removed.
func (s *Store) PurgeExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-s.retention)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.CreatedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	s.entries = kept
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(); err != nil {
		return 0, err
	}
	s.log.Infof("Purged expired schedule entries [count=%d]", removed)
	return removed, nil
}

func (s *Store) index(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persist() error {
	if err := s.persister.Save(s.entries); err != nil {
		return fmt.Errorf("failed to persist schedule: %w", err)
	}
	return nil
}
