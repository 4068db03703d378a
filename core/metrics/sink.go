// Package metrics defines the observability records the engine emits and
// the sink interface the infra backends implement.
package metrics

import "time"

// ExecutionRecord captures one schedule-entry execution attempt outcome.
type ExecutionRecord struct {
	DeviceAddress string
	DeviceName    string
	Origin        string
	DesiredState  bool
	Success       bool
	Attempts      int
	// Latency is the duration of the device communication.
	Latency time.Duration
	Time    time.Time
}

// PlanRecord captures one daily strategy run for a device.
type PlanRecord struct {
	DeviceAddress string
	Strategy      string
	Windows       int
	TotalRuntime  time.Duration
	Date          time.Time
}

// PriceFetchRecord captures one market fetch outcome.
type PriceFetchRecord struct {
	Date    time.Time
	Points  int
	Success bool
	Time    time.Time
}

// Sink records engine events for observability purposes.
type Sink interface {
	RecordExecution(rec ExecutionRecord) error
	RecordPlan(rec PlanRecord) error
	RecordPriceFetch(rec PriceFetchRecord) error
	// RecordPending reports the current number of pending schedule entries.
	RecordPending(count int) error
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) RecordExecution(ExecutionRecord) error   { return nil }
func (NopSink) RecordPlan(PlanRecord) error             { return nil }
func (NopSink) RecordPriceFetch(PriceFetchRecord) error { return nil }
func (NopSink) RecordPending(int) error                 { return nil }
