package model

import "time"

// StatusKind identifies the terminal outcome or progress of a session as
// reported by the field controller.
type StatusKind string

const (
	StatusKindStarted   StatusKind = "started"
	StatusKindCompleted StatusKind = "completed"
	StatusKindError     StatusKind = "error"
)

// StatusEvent is emitted by a field controller and consumed by the Session
// Authority. Duplicates are safe: application is effectively at-most-once.
type StatusEvent struct {
	SessionID string     `json:"session_id"`
	DeviceID  string     `json:"device_id"`
	Kind      StatusKind `json:"kind"`
	Reason    string     `json:"reason,omitempty"`
	At        time.Time  `json:"at"`
}

// SessionStatusFor maps the event kind to the session status it implies.
func (e StatusEvent) SessionStatus() (SessionStatus, bool) {
	switch e.Kind {
	case StatusKindStarted:
		return StatusStarted, true
	case StatusKindCompleted:
		return StatusCompleted, true
	case StatusKindError:
		return StatusErrored, true
	}
	return 0, false
}
