// Package events defines the notifications published on the internal event
// bus for dashboard-style observers.
package events

import "github.com/voltbay/powerbank/core/model"

// SessionEvent is published when a new charge session is created and
// dispatched.
type SessionEvent struct {
	Session model.ChargeSession
}

// StatusAppliedEvent is published when a status event advanced a session.
type StatusAppliedEvent struct {
	Event  model.StatusEvent
	Status model.SessionStatus
}

// SessionExpiredEvent is published for each session force-expired by a sweep.
type SessionExpiredEvent struct {
	Session model.ChargeSession
}
