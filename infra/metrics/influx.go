package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kmoreau/plugsched/core/metrics"
	"github.com/kmoreau/plugsched/infra/logger"
)

// InfluxSink writes engine events to an InfluxDB instance.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and falls back to
// a NopSink when the health check fails, so a down database never blocks
// the engine.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordExecution writes the execution outcome as a point.
func (s *InfluxSink) RecordExecution(rec coremetrics.ExecutionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("schedule_execution").
		AddTag("device", rec.DeviceAddress).
		AddTag("origin", rec.Origin).
		AddTag("success", strconv.FormatBool(rec.Success)).
		AddField("attempts", rec.Attempts).
		AddField("latency_ms", rec.Latency.Milliseconds()).
		AddField("desired_state", rec.DesiredState).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPlan writes the daily plan summary as a point.
func (s *InfluxSink) RecordPlan(rec coremetrics.PlanRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("daily_plan").
		AddTag("device", rec.DeviceAddress).
		AddTag("strategy", rec.Strategy).
		AddField("windows", rec.Windows).
		AddField("runtime_hours", rec.TotalRuntime.Hours()).
		SetTime(rec.Date)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPriceFetch writes the fetch outcome as a point.
func (s *InfluxSink) RecordPriceFetch(rec coremetrics.PriceFetchRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("price_fetch").
		AddTag("success", strconv.FormatBool(rec.Success)).
		AddField("points", rec.Points).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPending writes the pending-entry count as a point.
func (s *InfluxSink) RecordPending(count int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("pending_entries").
		AddField("count", count).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }
