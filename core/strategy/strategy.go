// Package strategy computes daily runtime windows for a device from the
// day-ahead price curve. Strategies are pure: identical inputs always
// produce identical windows, and the windows for one device and day never
// overlap.
package strategy

import (
	"fmt"
	"time"

	"github.com/kmoreau/plugsched/core/model"
)

// Strategy maps a date, a price curve and a device configuration to a set
// of disjoint runtime windows for that day.
type Strategy interface {
	Compute(date time.Time, prices model.PriceCurve, cfg model.DeviceConfig) ([]model.Window, error)
}

// ForName returns the strategy registered under the configured name.
func ForName(name string) (Strategy, error) {
	switch name {
	case model.StrategyPeriod:
		return PeriodStrategy{}, nil
	case model.StrategyValley:
		return ValleyStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// hourStart returns the absolute instant of the given hour on date, in
// date's location.
func hourStart(date time.Time, hour int) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, date.Location())
}

// priceMap indexes a curve by hour.
func priceMap(prices model.PriceCurve) map[int]float64 {
	m := make(map[int]float64, len(prices))
	for _, p := range prices {
		m[p.Hour] = p.Price
	}
	return m
}
