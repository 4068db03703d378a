package config

import (
	"os"
	"time"
)

// Watcher detects configuration changes by polling file modification
// times. The config file and the mode overlay are both watched; either
// changing triggers a full reload.
type Watcher struct {
	paths  []string
	mtimes map[string]time.Time
}

// NewWatcher snapshots the current modification times of the given files.
// Missing files are fine; they register once they appear.
func NewWatcher(paths ...string) *Watcher {
	w := &Watcher{paths: paths, mtimes: make(map[string]time.Time, len(paths))}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			w.mtimes[p] = info.ModTime()
		}
	}
	return w
}

// Changed reports whether any watched file was modified since the last
// call, and resets the baseline.
func (w *Watcher) Changed() bool {
	changed := false
	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mt, ok := w.mtimes[p]; !ok || !mt.Equal(info.ModTime()) {
			w.mtimes[p] = info.ModTime()
			changed = true
		}
	}
	return changed
}
