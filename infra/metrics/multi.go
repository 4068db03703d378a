package metrics

import coremetrics "github.com/kmoreau/plugsched/core/metrics"

// MultiSink fans every record out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordExecution forwards the record, returning the first error.
func (m *MultiSink) RecordExecution(rec coremetrics.ExecutionRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordExecution(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordPlan forwards the record, returning the first error.
func (m *MultiSink) RecordPlan(rec coremetrics.PlanRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordPlan(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordPriceFetch forwards the record, returning the first error.
func (m *MultiSink) RecordPriceFetch(rec coremetrics.PriceFetchRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordPriceFetch(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordPending forwards the count, returning the first error.
func (m *MultiSink) RecordPending(count int) error {
	for _, s := range m.Sinks {
		if err := s.RecordPending(count); err != nil {
			return err
		}
	}
	return nil
}
