package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kmoreau/plugsched/core/metrics"
)

func TestPromSinkRecordsExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordExecution(coremetrics.ExecutionRecord{
		DeviceAddress: "192.168.1.10",
		Origin:        "automatic",
		Success:       true,
		Latency:       120 * time.Millisecond,
	}))
	require.NoError(t, sink.RecordExecution(coremetrics.ExecutionRecord{
		DeviceAddress: "192.168.1.10",
		Origin:        "automatic",
		Success:       false,
	}))

	ok := testutil.ToFloat64(sink.executions.WithLabelValues("192.168.1.10", "automatic", "true"))
	failed := testutil.ToFloat64(sink.executions.WithLabelValues("192.168.1.10", "automatic", "false"))
	assert.Equal(t, 1.0, ok)
	assert.Equal(t, 1.0, failed)
}

func TestPromSinkRecordsPlanAndFetch(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordPlan(coremetrics.PlanRecord{
		DeviceAddress: "a",
		Strategy:      "valley_detection",
		Windows:       2,
		TotalRuntime:  5 * time.Hour,
	}))
	assert.Equal(t, 5.0, testutil.ToFloat64(sink.planned.WithLabelValues("a", "valley_detection")))

	require.NoError(t, sink.RecordPriceFetch(coremetrics.PriceFetchRecord{Success: true, Points: 24}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("true")))

	require.NoError(t, sink.RecordPending(3))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.pending))
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	_, err = NewPromSinkWithRegistry(reg)
	assert.NoError(t, err)
}

type countingSink struct{ executions, plans, fetches, pendings int }

func (c *countingSink) RecordExecution(coremetrics.ExecutionRecord) error {
	c.executions++
	return nil
}
func (c *countingSink) RecordPlan(coremetrics.PlanRecord) error {
	c.plans++
	return nil
}
func (c *countingSink) RecordPriceFetch(coremetrics.PriceFetchRecord) error {
	c.fetches++
	return nil
}
func (c *countingSink) RecordPending(int) error {
	c.pendings++
	return nil
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := NewMultiSink(a, b)

	require.NoError(t, m.RecordExecution(coremetrics.ExecutionRecord{}))
	require.NoError(t, m.RecordPlan(coremetrics.PlanRecord{}))
	require.NoError(t, m.RecordPriceFetch(coremetrics.PriceFetchRecord{}))
	require.NoError(t, m.RecordPending(7))

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, 1, s.executions)
		assert.Equal(t, 1, s.plans)
		assert.Equal(t, 1, s.fetches)
		assert.Equal(t, 1, s.pendings)
	}
}

func TestFactoryDefaultsToNop(t *testing.T) {
	sink, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopSink{}, sink)
}

func TestFactoryRejectsInfluxWithoutURL(t *testing.T) {
	_, err := New(Config{Influx: InfluxConfig{Enabled: true}})
	assert.Error(t, err)
}
