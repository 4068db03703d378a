package model

import "time"

// Frequency selects the base repetition pattern of a recurrence.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqCustom  Frequency = "custom"
)

// Recurrence describes how a schedule entry repeats. Days of week use
// 0=Monday..6=Sunday, days of month 1..31 (clamped to month end).
type Recurrence struct {
	Frequency   Frequency `json:"frequency"`
	Interval    int       `json:"interval"`
	DaysOfWeek  []int     `json:"days_of_week,omitempty"`
	DaysOfMonth []int     `json:"days_of_month,omitempty"`
	// TimeOfDay is "HH:MM" in the engine's local timezone.
	TimeOfDay string     `json:"time_of_day"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	// SeriesID links all occurrences of one recurring schedule.
	SeriesID string `json:"series_id,omitempty"`
}
