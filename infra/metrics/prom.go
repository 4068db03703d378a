// Package metrics provides the Prometheus and InfluxDB backends of the
// core metrics sink.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kmoreau/plugsched/core/metrics"
)

// PromSink records engine events as Prometheus metrics.
type PromSink struct {
	executions *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	planned    *prometheus.GaugeVec
	fetches    *prometheus.CounterVec
	pending    prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The HTTP server exposing them is started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global one.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plugsched_executions_total",
		Help: "Total number of schedule entry execution attempts",
	}, []string{"device", "origin", "success"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plugsched_execution_latency_seconds",
		Help:    "Duration of the device communication per execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"device", "success"})
	planned := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plugsched_planned_runtime_hours",
		Help: "Total daily runtime planned for a device by its strategy",
	}, []string{"device", "strategy"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plugsched_price_fetches_total",
		Help: "Total number of market price fetches",
	}, []string{"success"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plugsched_pending_entries",
		Help: "Number of schedule entries waiting to execute",
	})

	if err := reg.Register(executions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			executions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(planned); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			planned = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(fetches); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			fetches = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(pending); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			pending = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	return &PromSink{executions: executions, latency: latency, planned: planned, fetches: fetches, pending: pending}, nil
}

// RecordExecution increments the execution counter and observes latency.
func (s *PromSink) RecordExecution(rec coremetrics.ExecutionRecord) error {
	ok := strconv.FormatBool(rec.Success)
	s.executions.WithLabelValues(rec.DeviceAddress, rec.Origin, ok).Inc()
	s.latency.WithLabelValues(rec.DeviceAddress, ok).Observe(rec.Latency.Seconds())
	return nil
}

// RecordPlan sets the planned-runtime gauge for the device.
func (s *PromSink) RecordPlan(rec coremetrics.PlanRecord) error {
	s.planned.WithLabelValues(rec.DeviceAddress, rec.Strategy).Set(rec.TotalRuntime.Hours())
	return nil
}

// RecordPriceFetch increments the fetch counter.
func (s *PromSink) RecordPriceFetch(rec coremetrics.PriceFetchRecord) error {
	s.fetches.WithLabelValues(strconv.FormatBool(rec.Success)).Inc()
	return nil
}

// RecordPending sets the pending-entry gauge.
func (s *PromSink) RecordPending(count int) error {
	s.pending.Set(float64(count))
	return nil
}
