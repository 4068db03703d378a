package strategy

import (
	"math"
	"time"

	"github.com/kmoreau/plugsched/core/model"
)

// PeriodStrategy places each configured period's runtime on the cheapest
// contiguous run of hours inside that period. Periods are evaluated
// independently; their windows are never merged, even when adjacent.
type PeriodStrategy struct{}

// Compute returns one window per period for which the price data covers at
// least one candidate run. Ties are broken by the earliest starting hour.
func (PeriodStrategy) Compute(date time.Time, prices model.PriceCurve, cfg model.DeviceConfig) ([]model.Window, error) {
	byHour := priceMap(prices)
	var windows []model.Window
	for _, p := range cfg.Periods {
		hours := int(math.Ceil(p.Runtime.Hours()))
		if hours < 1 {
			hours = 1
		}
		start, ok := cheapestRun(byHour, p.StartHour, p.EndHour, hours)
		if !ok {
			continue
		}
		windows = append(windows, model.Window{
			Start:    hourStart(date, start),
			Duration: p.Runtime,
		})
	}
	return windows, nil
}

// cheapestRun finds the starting hour of the minimum-sum contiguous run of
// n hours within [from, to). Runs with missing price data are skipped. The
// earliest start wins ties.
func cheapestRun(byHour map[int]float64, from, to, n int) (int, bool) {
	bestStart, found := 0, false
	bestSum := math.Inf(1)
	for s := from; s+n <= to; s++ {
		sum, complete := 0.0, true
		for h := s; h < s+n; h++ {
			price, ok := byHour[h]
			if !ok {
				complete = false
				break
			}
			sum += price
		}
		if complete && sum < bestSum {
			bestSum, bestStart, found = sum, s, true
		}
	}
	return bestStart, found
}
