package orchestrator

import "time"

// RetryConfig bounds how failed device operations are retried.
type RetryConfig struct {
	// MaxAttempts is the total execution budget per entry.
	MaxAttempts           int `json:"max_attempts"`
	InitialBackoffSeconds int `json:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `json:"max_backoff_seconds"`
	// RetryWindowHours bounds how long after the target time an entry may
	// still be retried before it is abandoned as failed.
	RetryWindowHours int `json:"retry_window_hours"`
}

// SetDefaults applies the documented defaults: 3 attempts, exponential
// backoff starting at 30 seconds capped at 15 minutes, 4 hour window.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoffSeconds <= 0 {
		c.InitialBackoffSeconds = 30
	}
	if c.MaxBackoffSeconds <= 0 {
		c.MaxBackoffSeconds = 900
	}
	if c.RetryWindowHours <= 0 {
		c.RetryWindowHours = 4
	}
}

// Backoff returns the delay before the given attempt number (1-based) may
// run again, growing exponentially up to the cap.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := time.Duration(c.InitialBackoffSeconds) * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Duration(c.MaxBackoffSeconds)*time.Second {
			return time.Duration(c.MaxBackoffSeconds) * time.Second
		}
	}
	max := time.Duration(c.MaxBackoffSeconds) * time.Second
	if d > max {
		return max
	}
	return d
}

// Window returns the retry window as a duration.
func (c RetryConfig) Window() time.Duration {
	return time.Duration(c.RetryWindowHours) * time.Hour
}
