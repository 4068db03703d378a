// Package events defines the scheduling related events emitted on the
// event bus.
//
// Available event types:
//   - ExecutionEvent: outcome of one schedule entry execution
//   - DailyPlanEvent: the day's computed plan for all enabled devices
//   - PriceFetchEvent: result of a day-ahead price fetch
package events

import (
	"time"

	"github.com/kmoreau/plugsched/core/model"
)

// ExecutionEvent is published after a schedule entry reaches a terminal
// execution outcome or a retry is scheduled.
type ExecutionEvent struct {
	Entry    model.ScheduleEntry
	Final    bool
	Err      error
	Duration time.Duration
}

// DevicePlan holds the windows chosen for one device.
type DevicePlan struct {
	Device  model.DeviceConfig
	Windows []model.Window
}

// DailyPlanEvent is published once per day after automatic entries were
// regenerated for all enabled devices.
type DailyPlanEvent struct {
	Date   time.Time
	Prices model.PriceCurve
	Plans  []DevicePlan
}

// PriceFetchEvent records a day-ahead price fetch attempt.
type PriceFetchEvent struct {
	Date  time.Time
	Count int
	Err   error
}
