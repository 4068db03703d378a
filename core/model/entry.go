package model

import "time"

// Status is the lifecycle state of a schedule entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Origin tells how a schedule entry was created.
type Origin string

const (
	OriginAutomatic Origin = "automatic"
	OriginManual    Origin = "manual"
)

// ScheduleEntry is one timed switch action for a device. Target times are
// always stored as absolute UTC instants; any local-time conversion happens
// at the boundary that created the entry.
type ScheduleEntry struct {
	ID            string        `json:"id"`
	DeviceAddress string        `json:"device_address"`
	DeviceName    string        `json:"device_name,omitempty"`
	TargetTime    time.Time     `json:"target_time"`
	DesiredState  bool          `json:"desired_state"`
	Duration      time.Duration `json:"duration,omitempty"`
	Origin        Origin        `json:"origin"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	Attempts      int           `json:"attempts,omitempty"`
	NextRetryAt   time.Time     `json:"next_retry_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	ExecutedAt    time.Time     `json:"executed_at,omitempty"`
	FailedAt      time.Time     `json:"failed_at,omitempty"`
	CancelledAt   time.Time     `json:"cancelled_at,omitempty"`
	Recurrence    *Recurrence   `json:"recurrence,omitempty"`
	// NextMaterialized marks that the follow-up occurrence of a recurring
	// entry has been created, so a series never forks or stalls.
	NextMaterialized bool `json:"next_materialized,omitempty"`
}

// Due reports whether the entry should execute now: pending, past its
// target and past any retry hold-off.
func (e ScheduleEntry) Due(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	if e.TargetTime.After(now) {
		return false
	}
	return e.NextRetryAt.IsZero() || !e.NextRetryAt.After(now)
}
