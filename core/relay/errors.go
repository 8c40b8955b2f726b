package relay

import "errors"

var (
	// ErrSafetyViolation marks a command that must never actuate: wrong
	// device, non-positive duration or duration beyond the configured bound.
	ErrSafetyViolation = errors.New("safety violation")
	// ErrBusy marks a command that conflicts with the active session or the
	// cooldown window.
	ErrBusy = errors.New("device busy")
	// ErrFaulted is returned while the controller is in the Fault state.
	ErrFaulted = errors.New("controller faulted")
	// ErrStaleCommand marks a command whose authorized window already passed,
	// typically a retained command redelivered after a restart.
	ErrStaleCommand = errors.New("stale command")

	errFailOn  = errors.New("mock driver: on failed")
	errFailOff = errors.New("mock driver: off failed")
)
