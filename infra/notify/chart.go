package notify

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kmoreau/plugsched/core/events"
	"github.com/kmoreau/plugsched/core/model"
)

// RenderPriceChart produces an HTML bar chart of the day's hourly prices,
// with one extra series per device marking its planned runtime hours.
func RenderPriceChart(ev events.DailyPlanEvent) ([]byte, error) {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Electricity prices %s", ev.Date.Format("2006-01-02")),
			Subtitle: "EUR/kWh with planned device runtimes",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	hours := make([]string, 0, len(ev.Prices))
	prices := make([]opts.BarData, 0, len(ev.Prices))
	for _, p := range ev.Prices {
		hours = append(hours, fmt.Sprintf("%02d:00", p.Hour))
		prices = append(prices, opts.BarData{Value: p.Price})
	}
	bar.SetXAxis(hours)
	bar.AddSeries("price", prices)

	for _, plan := range ev.Plans {
		planned := plannedHours(plan.Windows)
		data := make([]opts.BarData, 0, len(ev.Prices))
		for _, p := range ev.Prices {
			if planned[p.Hour] {
				data = append(data, opts.BarData{Value: p.Price})
			} else {
				data = append(data, opts.BarData{Value: 0})
			}
		}
		name := plan.Device.Name
		if name == "" {
			name = plan.Device.Address
		}
		bar.AddSeries(name, data)
	}

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func plannedHours(windows []model.Window) map[int]bool {
	hours := make(map[int]bool)
	for _, w := range windows {
		end := w.End()
		for t := w.Start; t.Before(end); t = t.Add(time.Hour) {
			hours[t.Hour()] = true
		}
	}
	return hours
}
