package model

import (
	"sort"
	"time"
)

// PricePoint is one hour of a day-ahead price curve.
type PricePoint struct {
	Hour  int     `json:"hour"` // 0..23
	Price float64 `json:"price"`
}

// PriceCurve is a day's hourly prices ordered by hour. It may hold fewer
// than 24 points when the market published an incomplete file.
type PriceCurve []PricePoint

// Sort orders the curve by hour in place.
func (c PriceCurve) Sort() {
	sort.Slice(c, func(i, j int) bool { return c[i].Hour < c[j].Hour })
}

// At returns the price for the given hour.
func (c PriceCurve) At(hour int) (float64, bool) {
	for _, p := range c {
		if p.Hour == hour {
			return p.Price, true
		}
	}
	return 0, false
}

// Values returns the raw prices in hour order.
func (c PriceCurve) Values() []float64 {
	sorted := append(PriceCurve(nil), c...)
	sorted.Sort()
	out := make([]float64, len(sorted))
	for i, p := range sorted {
		out[i] = p.Price
	}
	return out
}

// DayKey formats a calendar date as a cache key.
func DayKey(t time.Time) string { return t.Format("20060102") }

// SameDay reports whether a and b fall on the same calendar day in a's location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
