package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmoreau/plugsched/core/model"
)

func dayCurve(prices []float64) model.PriceCurve {
	var c model.PriceCurve
	for h, p := range prices {
		c = append(c, model.PricePoint{Hour: h, Price: p})
	}
	return c
}

func TestValleyWaterHeaterSplitsMorningAndEvening(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := dayCurve([]float64{
		12, 11, 10, 10, 9, 3, 4, 5, 8, 9, 13, 14,
		15, 14, 13, 12, 7, 2, 3, 6, 9, 10, 11, 12,
	})
	cfg := model.DeviceConfig{
		Strategy: model.StrategyValley,
		Valley: model.ValleyParams{
			Profile:      model.ProfileWaterHeater,
			RuntimeHours: 5,
			Morning:      &model.HourRange{Start: 4, End: 10},
			Evening:      &model.HourRange{Start: 16, End: 20},
		},
	}

	windows, err := ValleyStrategy{}.Compute(date, prices, cfg)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 5, windows[0].Start.Hour())
	assert.Equal(t, 3*time.Hour, windows[0].Duration)
	assert.Equal(t, 17, windows[1].Start.Hour())
	assert.Equal(t, 2*time.Hour, windows[1].Duration)
	assert.True(t, model.Disjoint(windows))

	var total time.Duration
	for _, w := range windows {
		total += w.Duration
	}
	assert.Equal(t, 5*time.Hour, total)
}

func TestValleyIncludesHoursAtThreshold(t *testing.T) {
	byHour := map[int]float64{0: 1, 1: 5, 2: 9}
	valleys := detectValleys(byHour, 5, model.HourRange{Start: 0, End: 3}, false)
	require.Len(t, valleys, 1)
	assert.Equal(t, []int{0, 1}, valleys[0].hours)
}

func TestValleyBridgesSingleExpensiveHour(t *testing.T) {
	byHour := map[int]float64{0: 1, 1: 2, 2: 8, 3: 1, 4: 2}
	valleys := detectValleys(byHour, 3, model.HourRange{Start: 0, End: 5}, true)
	require.Len(t, valleys, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, valleys[0].hours)
	assert.InDelta(t, 2.8, valleys[0].avg, 1e-9)
}

func TestValleyDoesNotBridgeWiderGaps(t *testing.T) {
	byHour := map[int]float64{0: 1, 1: 9, 2: 9, 3: 1}
	valleys := detectValleys(byHour, 2, model.HourRange{Start: 0, End: 4}, true)
	assert.Len(t, valleys, 2)
}

func TestValleyRadiatorSpreadsAcrossValleys(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 24)
	for h := range prices {
		prices[h] = 10
	}
	for _, h := range []int{0, 1, 2, 8, 9, 10, 16, 17, 18} {
		prices[h] = 2
	}
	cfg := model.DeviceConfig{
		Valley: model.ValleyParams{
			Profile:      model.ProfileRadiator,
			RuntimeHours: 6,
			Percentile:   0.25,
		},
	}

	windows, err := ValleyStrategy{}.Compute(date, dayCurve(prices), cfg)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	for i, start := range []int{0, 8, 16} {
		assert.Equal(t, start, windows[i].Start.Hour())
		assert.Equal(t, 2*time.Hour, windows[i].Duration)
	}
}

func TestValleyGenericFillsCheapestFirst(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 24)
	for h := range prices {
		prices[h] = 10
	}
	for _, h := range []int{2, 3, 4} {
		prices[h] = 1
	}
	for _, h := range []int{20, 21, 22, 23} {
		prices[h] = 2
	}
	cfg := model.DeviceConfig{
		Valley: model.ValleyParams{
			Profile:      model.ProfileGeneric,
			RuntimeHours: 4,
			Percentile:   0.29,
		},
	}

	windows, err := ValleyStrategy{}.Compute(date, dayCurve(prices), cfg)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	// The cheapest valley is exhausted before the next one is touched.
	assert.Equal(t, 2, windows[0].Start.Hour())
	assert.Equal(t, 3*time.Hour, windows[0].Duration)
	assert.Equal(t, 20, windows[1].Start.Hour())
	assert.Equal(t, time.Hour, windows[1].Duration)
}

func TestValleyConstraintLimitsSearch(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 24)
	for h := range prices {
		prices[h] = 10
	}
	prices[1] = 1
	prices[13] = 1
	cfg := model.DeviceConfig{
		Valley: model.ValleyParams{
			Profile:      model.ProfileGeneric,
			RuntimeHours: 1,
			Percentile:   0.05,
			Constraint:   &model.HourRange{Start: 12, End: 18},
		},
	}

	windows, err := ValleyStrategy{}.Compute(date, dayCurve(prices), cfg)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 13, windows[0].Start.Hour())
}
