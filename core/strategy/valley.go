package strategy

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kmoreau/plugsched/core/model"
)

// profileSpec controls how a device profile distributes runtime across
// detected valleys.
type profileSpec struct {
	// bridge merges valleys separated by a single above-threshold hour.
	bridge bool
	// spreadCycles caps the hours taken from a single valley to
	// ceil(runtime/spreadCycles), forcing distribution across the day.
	// Zero disables the cap.
	spreadCycles int
}

var profiles = map[string]profileSpec{
	model.ProfileWaterHeater: {bridge: true},
	model.ProfileRadiator:    {bridge: true, spreadCycles: 3},
	model.ProfileGeneric:     {},
}

// Default water heater windows, matching the usual overnight and evening
// tariff valleys.
var (
	defaultMorning = model.HourRange{Start: 2, End: 8}
	defaultEvening = model.HourRange{Start: 18, End: 23}
)

// valley is a maximal run of consecutive hours at or below the threshold,
// possibly bridged over a single expensive hour.
type valley struct {
	hours []int
	avg   float64
}

func (v valley) first() int { return v.hours[0] }
func (v valley) len() int   { return len(v.hours) }

// ValleyStrategy detects price valleys below a percentile threshold and
// distributes the device's required runtime hours across them according to
// its profile.
type ValleyStrategy struct{}

// Compute returns disjoint windows totalling cfg.Valley.RuntimeHours
// whenever the detected valleys hold enough capacity.
func (ValleyStrategy) Compute(date time.Time, prices model.PriceCurve, cfg model.DeviceConfig) ([]model.Window, error) {
	params := cfg.Valley
	spec := profiles[params.Profile]
	byHour := priceMap(prices)
	threshold := valleyThreshold(prices, params.Percentile)

	var picked []block
	if params.Profile == model.ProfileWaterHeater {
		picked = distributeWaterHeater(byHour, threshold, spec, params)
	} else {
		window := model.HourRange{Start: 0, End: 24}
		if params.Constraint != nil {
			window = *params.Constraint
		}
		valleys := detectValleys(byHour, threshold, window, spec.bridge)
		picked = fill(valleys, byHour, params.RuntimeHours, spec.spreadCycles)
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].start < picked[j].start })
	windows := make([]model.Window, 0, len(picked))
	for _, b := range picked {
		windows = append(windows, model.Window{
			Start:    hourStart(date, b.start),
			Duration: time.Duration(b.length) * time.Hour,
		})
	}
	return windows, nil
}

// valleyThreshold returns the configured percentile of the day's prices.
// A zero percentile selects the median.
func valleyThreshold(prices model.PriceCurve, pct float64) float64 {
	if pct <= 0 {
		pct = 0.5
	}
	values := prices.Values()
	sort.Float64s(values)
	return stat.Quantile(pct, stat.Empirical, values, nil)
}

// detectValleys finds maximal runs of hours priced at or below the
// threshold inside the window, optionally bridging single-hour gaps.
func detectValleys(byHour map[int]float64, threshold float64, window model.HourRange, bridge bool) []valley {
	var valleys []valley
	var run []int
	flush := func() {
		if len(run) > 0 {
			valleys = append(valleys, newValley(run, byHour))
			run = nil
		}
	}
	for h := window.Start; h < window.End; h++ {
		price, ok := byHour[h]
		if ok && price <= threshold {
			run = append(run, h)
			continue
		}
		flush()
	}
	flush()

	if bridge {
		valleys = bridgeValleys(valleys, byHour)
	}
	sort.Slice(valleys, func(i, j int) bool {
		if valleys[i].avg != valleys[j].avg {
			return valleys[i].avg < valleys[j].avg
		}
		return valleys[i].first() < valleys[j].first()
	})
	return valleys
}

// bridgeValleys merges valleys separated by exactly one priced hour. The
// gap hour becomes part of the merged valley so the device runs through it.
func bridgeValleys(valleys []valley, byHour map[int]float64) []valley {
	if len(valleys) < 2 {
		return valleys
	}
	sort.Slice(valleys, func(i, j int) bool { return valleys[i].first() < valleys[j].first() })
	merged := []valley{valleys[0]}
	for _, v := range valleys[1:] {
		last := &merged[len(merged)-1]
		gap := v.first() - (last.hours[len(last.hours)-1] + 1)
		if gap == 1 {
			gapHour := last.hours[len(last.hours)-1] + 1
			if _, ok := byHour[gapHour]; ok {
				hours := append(append(append([]int(nil), last.hours...), gapHour), v.hours...)
				*last = newValley(hours, byHour)
				continue
			}
		}
		merged = append(merged, v)
	}
	return merged
}

func newValley(hours []int, byHour map[int]float64) valley {
	sum := 0.0
	for _, h := range hours {
		sum += byHour[h]
	}
	return valley{hours: hours, avg: sum / float64(len(hours))}
}

// block is a chosen contiguous run of allocated hours.
type block struct {
	start  int
	length int
}

// fill takes hours from the cheapest valleys first until the requirement
// is met. With a spread cap, a first pass limits each valley's share to
// ceil(runtime/cycles); a second uncapped pass consumes leftover capacity
// so the total is always met when enough valley hours exist.
func fill(valleys []valley, byHour map[int]float64, runtime, spreadCycles int) []block {
	remaining := runtime
	taken := make([]int, len(valleys))

	perValley := runtime
	if spreadCycles > 0 {
		perValley = (runtime + spreadCycles - 1) / spreadCycles
		if perValley < 1 {
			perValley = 1
		}
	}
	for pass := 0; pass < 2 && remaining > 0; pass++ {
		limit := perValley
		if pass == 1 {
			limit = runtime
		}
		for i := range valleys {
			if remaining == 0 {
				break
			}
			free := valleys[i].len() - taken[i]
			take := min(min(remaining, free), limit-min(taken[i], limit))
			if take <= 0 {
				continue
			}
			taken[i] += take
			remaining -= take
		}
	}

	var blocks []block
	for i, v := range valleys {
		if taken[i] == 0 {
			continue
		}
		blocks = append(blocks, cheapestSubBlock(v, byHour, taken[i]))
	}
	return blocks
}

// cheapestSubBlock places n allocated hours on the minimum-sum contiguous
// run inside the valley, earliest start winning ties.
func cheapestSubBlock(v valley, byHour map[int]float64, n int) block {
	if n >= v.len() {
		return block{start: v.first(), length: v.len()}
	}
	bestStart := v.first()
	bestSum := math.Inf(1)
	for i := 0; i+n <= v.len(); i++ {
		sum := 0.0
		for j := i; j < i+n; j++ {
			sum += byHour[v.hours[j]]
		}
		if sum < bestSum {
			bestSum = sum
			bestStart = v.hours[i]
		}
	}
	return block{start: bestStart, length: n}
}

// distributeWaterHeater splits the requirement between the cheapest valley
// of the morning window and the cheapest valley of the evening window.
// Hours that do not fit on one side spill to the other.
func distributeWaterHeater(byHour map[int]float64, threshold float64, spec profileSpec, params model.ValleyParams) []block {
	morning, evening := defaultMorning, defaultEvening
	if params.Morning != nil {
		morning = *params.Morning
	}
	if params.Evening != nil {
		evening = *params.Evening
	}
	split := params.MorningSplit
	if split <= 0 || split >= 1 {
		split = 0.5
	}

	morningValleys := detectValleys(byHour, threshold, morning, spec.bridge)
	eveningValleys := detectValleys(byHour, threshold, evening, spec.bridge)

	morningCap, eveningCap := capacity(morningValleys), capacity(eveningValleys)
	wantMorning := int(math.Round(float64(params.RuntimeHours) * split))
	if wantMorning > morningCap {
		wantMorning = morningCap
	}
	wantEvening := params.RuntimeHours - wantMorning
	if wantEvening > eveningCap {
		spill := wantEvening - eveningCap
		wantEvening = eveningCap
		if wantMorning+spill <= morningCap {
			wantMorning += spill
		} else {
			wantMorning = morningCap
		}
	}

	blocks := fill(morningValleys, byHour, wantMorning, 0)
	return append(blocks, fill(eveningValleys, byHour, wantEvening, 0)...)
}

func capacity(valleys []valley) int {
	total := 0
	for _, v := range valleys {
		total += v.len()
	}
	return total
}
