package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmoreau/plugsched/core/model"
)

func curve(prices map[int]float64) model.PriceCurve {
	var c model.PriceCurve
	for h, p := range prices {
		c = append(c, model.PricePoint{Hour: h, Price: p})
	}
	c.Sort()
	return c
}

func TestPeriodPicksCheapestContiguousRun(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := curve(map[int]float64{0: 10, 1: 8, 2: 5, 3: 6, 4: 9, 5: 12})
	cfg := model.DeviceConfig{
		Strategy: model.StrategyPeriod,
		Periods:  []model.Period{{StartHour: 0, EndHour: 6, Runtime: 2 * time.Hour}},
	}

	windows, err := PeriodStrategy{}.Compute(date, prices, cfg)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC), windows[0].Start)
	assert.Equal(t, 2*time.Hour, windows[0].Duration)
}

func TestPeriodKeepsConfiguredRuntime(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := curve(map[int]float64{8: 4, 9: 3, 10: 5, 11: 6})
	cfg := model.DeviceConfig{
		Periods: []model.Period{{StartHour: 8, EndHour: 12, Runtime: 90 * time.Minute}},
	}

	windows, err := PeriodStrategy{}.Compute(date, prices, cfg)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	// 90 minutes needs two candidate hours but the window keeps the
	// configured runtime, not the rounded-up hour count.
	assert.Equal(t, 8, windows[0].Start.Hour())
	assert.Equal(t, 90*time.Minute, windows[0].Duration)
}

func TestPeriodEvaluatesPeriodsIndependently(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := curve(map[int]float64{
		0: 5, 1: 3, 2: 4, 3: 9,
		18: 7, 19: 2, 20: 4, 21: 8,
	})
	cfg := model.DeviceConfig{
		Periods: []model.Period{
			{StartHour: 0, EndHour: 4, Runtime: time.Hour},
			{StartHour: 18, EndHour: 22, Runtime: 2 * time.Hour},
		},
	}

	windows, err := PeriodStrategy{}.Compute(date, prices, cfg)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 1, windows[0].Start.Hour())
	assert.Equal(t, 19, windows[1].Start.Hour())
	assert.True(t, model.Disjoint(windows))
}

func TestPeriodSkipsRunsWithMissingData(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	// Hour 2 is missing, so runs touching it are not candidates.
	prices := curve(map[int]float64{0: 1, 1: 1, 3: 5, 4: 6})
	cfg := model.DeviceConfig{
		Periods: []model.Period{{StartHour: 0, EndHour: 5, Runtime: 2 * time.Hour}},
	}

	windows, err := PeriodStrategy{}.Compute(date, prices, cfg)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 0, windows[0].Start.Hour())
}

func TestPeriodNoCompleteRunYieldsNoWindow(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prices := curve(map[int]float64{0: 1, 2: 1})
	cfg := model.DeviceConfig{
		Periods: []model.Period{{StartHour: 0, EndHour: 3, Runtime: 2 * time.Hour}},
	}

	windows, err := PeriodStrategy{}.Compute(date, prices, cfg)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestForName(t *testing.T) {
	s, err := ForName(model.StrategyPeriod)
	require.NoError(t, err)
	assert.IsType(t, PeriodStrategy{}, s)

	s, err = ForName(model.StrategyValley)
	require.NoError(t, err)
	assert.IsType(t, ValleyStrategy{}, s)

	_, err = ForName("bogus")
	assert.Error(t, err)
}
