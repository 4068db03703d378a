package model

import "time"

// Window is a chosen runtime slot for a device: an absolute start instant
// and how long the device should stay on.
type Window struct {
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// End returns the instant the window closes.
func (w Window) End() time.Time { return w.Start.Add(w.Duration) }

// Overlaps reports whether two windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End()) && o.Start.Before(w.End())
}

// Disjoint reports whether no pair of windows overlaps.
func Disjoint(ws []Window) bool {
	for i := range ws {
		for j := i + 1; j < len(ws); j++ {
			if ws[i].Overlaps(ws[j]) {
				return false
			}
		}
	}
	return true
}
