// Package device defines the outlet facade the orchestrator drives and
// the registry that serializes access per physical device.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Facade is the synchronous control surface of one smart outlet. Any call
// may fail with a CommError, which the orchestrator folds into its retry
// policy. Callers must hold the device's lock; the facade itself does not
// serialize.
type Facade interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	// SetCountdown arms a timer that flips the outlet to desiredState
	// after the given duration.
	SetCountdown(ctx context.Context, d time.Duration, desiredState bool) error
	// ClearCountdown cancels any armed countdown timer.
	ClearCountdown(ctx context.Context) error
	InstantPower(ctx context.Context) (float64, error)
	// HourlyEnergy returns per-hour consumption in Wh for the given day.
	HourlyEnergy(ctx context.Context, day time.Time) ([]float64, error)
}

// CommError wraps any failure to talk to a device, timeouts included.
type CommError struct {
	Address string
	Err     error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("device %s unreachable: %v", e.Address, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// NewCommError wraps err as a communication failure with the device.
func NewCommError(address string, err error) error {
	return &CommError{Address: address, Err: err}
}

// IsCommError reports whether err is a device communication failure.
func IsCommError(err error) bool {
	var ce *CommError
	return errors.As(err, &ce)
}
