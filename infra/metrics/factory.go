package metrics

import (
	"fmt"

	coremetrics "github.com/kmoreau/plugsched/core/metrics"
)

// Config selects the enabled metrics backends.
type Config struct {
	Prometheus PrometheusConfig `json:"prometheus"`
	Influx     InfluxConfig     `json:"influx"`
}

// PrometheusConfig configures the Prometheus sink and HTTP endpoint.
type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Prometheus.Addr == "" {
		c.Prometheus.Addr = ":9090"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Influx.Enabled && c.Influx.URL == "" {
		return fmt.Errorf("influx metrics enabled without url")
	}
	return nil
}

// New builds the configured sink set. With nothing enabled the engine
// gets a NopSink.
func New(cfg Config) (coremetrics.Sink, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var sinks []coremetrics.Sink
	if cfg.Prometheus.Enabled {
		prom, err := NewPromSink()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, prom)
	}
	if cfg.Influx.Enabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
