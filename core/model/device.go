package model

import (
	"fmt"
	"time"
)

// Strategy names accepted in device configuration.
const (
	StrategyPeriod = "period"
	StrategyValley = "valley_detection"
)

// Device profiles for the valley-detection strategy.
const (
	ProfileWaterHeater = "water_heater"
	ProfileRadiator    = "radiator"
	ProfileGeneric     = "generic"
)

// Period is a configured hour range within which a fixed-length contiguous
// run must be placed. StartHour < EndHour, same day only; the end hour is
// exclusive.
type Period struct {
	StartHour int           `json:"start_hour"`
	EndHour   int           `json:"end_hour"`
	Runtime   time.Duration `json:"runtime"`
}

// Validate checks the period bounds.
func (p Period) Validate() error {
	if p.StartHour < 0 || p.StartHour > 23 {
		return fmt.Errorf("start_hour %d out of range", p.StartHour)
	}
	if p.EndHour < 1 || p.EndHour > 24 {
		return fmt.Errorf("end_hour %d out of range", p.EndHour)
	}
	if p.StartHour >= p.EndHour {
		return fmt.Errorf("start_hour %d not before end_hour %d", p.StartHour, p.EndHour)
	}
	if p.Runtime <= 0 {
		return fmt.Errorf("runtime must be positive")
	}
	if p.Runtime > time.Duration(p.EndHour-p.StartHour)*time.Hour {
		return fmt.Errorf("runtime %s exceeds period length", p.Runtime)
	}
	return nil
}

// HourRange is a half-open [Start, End) hour window within one day.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the hour falls inside the range.
func (r HourRange) Contains(h int) bool { return h >= r.Start && h < r.End }

// Len returns the number of hours covered.
func (r HourRange) Len() int { return r.End - r.Start }

// ValleyParams configures the valley-detection strategy for one device.
type ValleyParams struct {
	Profile      string     `json:"profile"`
	RuntimeHours int        `json:"runtime_hours"`
	// Percentile of the day's prices used as the valley threshold,
	// 0 < p <= 1. Zero selects the median.
	Percentile float64    `json:"percentile,omitempty"`
	Morning    *HourRange `json:"morning_window,omitempty"`
	Evening    *HourRange `json:"evening_window,omitempty"`
	Constraint *HourRange `json:"constraint,omitempty"`
	// MorningSplit is the fraction of runtime assigned to the morning
	// valley for the water_heater profile. Zero means an even split.
	MorningSplit float64 `json:"morning_split,omitempty"`
}

// DeviceConfig is the per-outlet policy consumed by the orchestrator and
// the strategies. Enabled=false keeps the device reachable for manual
// actions but excludes it from daily plan generation.
type DeviceConfig struct {
	Name     string       `json:"name"`
	Address  string       `json:"address"`
	Strategy string       `json:"strategy"`
	Enabled  bool         `json:"enabled"`
	Periods  []Period     `json:"periods,omitempty"`
	Valley   ValleyParams `json:"valley,omitempty"`
}

// Validate checks the device configuration for the selected strategy.
func (d DeviceConfig) Validate() error {
	if d.Address == "" {
		return fmt.Errorf("device %q: address is required", d.Name)
	}
	switch d.Strategy {
	case StrategyPeriod:
		if len(d.Periods) == 0 {
			return fmt.Errorf("device %q: period strategy requires at least one period", d.Name)
		}
		for i, p := range d.Periods {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("device %q period %d: %w", d.Name, i+1, err)
			}
			for j := 0; j < i; j++ {
				q := d.Periods[j]
				if p.StartHour < q.EndHour && q.StartHour < p.EndHour {
					return fmt.Errorf("device %q: periods %d and %d overlap", d.Name, j+1, i+1)
				}
			}
		}
	case StrategyValley:
		v := d.Valley
		if v.RuntimeHours < 1 || v.RuntimeHours > 24 {
			return fmt.Errorf("device %q: runtime_hours %d out of range", d.Name, v.RuntimeHours)
		}
		if v.Percentile < 0 || v.Percentile > 1 {
			return fmt.Errorf("device %q: percentile %v out of range", d.Name, v.Percentile)
		}
		switch v.Profile {
		case ProfileWaterHeater, ProfileRadiator, ProfileGeneric:
		default:
			return fmt.Errorf("device %q: unknown profile %q", d.Name, v.Profile)
		}
		for _, r := range []*HourRange{v.Morning, v.Evening, v.Constraint} {
			if r == nil {
				continue
			}
			if r.Start < 0 || r.End > 24 || r.Start >= r.End {
				return fmt.Errorf("device %q: invalid hour window %d-%d", d.Name, r.Start, r.End)
			}
		}
	default:
		return fmt.Errorf("device %q: unknown strategy %q", d.Name, d.Strategy)
	}
	return nil
}
