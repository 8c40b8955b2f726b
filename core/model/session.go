package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sessionNamespace is the UUIDv5 namespace used to derive session identifiers
// from provider event IDs. Deriving instead of generating keeps session
// creation idempotent: redelivered confirmations map to the same session.
var sessionNamespace = uuid.MustParse("f3c8a6de-41d2-5b7a-9c14-8e2d0b6f14aa")

// SessionID derives the deterministic session identifier for a provider event.
func SessionID(providerEventID string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(providerEventID)).String()
}

// SessionStatus tracks a charge session through its lifecycle.
type SessionStatus int

const (
	StatusCreated SessionStatus = iota
	StatusDispatched
	StatusStarted
	StatusCompleted
	StatusErrored
	StatusExpired
)

var statusNames = map[SessionStatus]string{
	StatusCreated:    "created",
	StatusDispatched: "dispatched",
	StatusStarted:    "started",
	StatusCompleted:  "completed",
	StatusErrored:    "errored",
	StatusExpired:    "expired",
}

func (s SessionStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalText renders the status as its lowercase name for audit records.
func (s SessionStatus) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown session status %d", int(s))
	}
	return []byte(n), nil
}

func (s *SessionStatus) UnmarshalText(b []byte) error {
	for st, n := range statusNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", string(b))
}

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored || s == StatusExpired
}

// rank orders statuses along the lattice Created < Dispatched < Started <
// terminal. Status events may arrive out of order or duplicated, so a session
// only ever moves to a strictly higher rank.
func (s SessionStatus) rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusDispatched:
		return 1
	case StatusStarted:
		return 2
	default:
		return 3
	}
}

// CanAdvanceTo reports whether a transition from s to next is a legal forward
// move. Regressions and terminal-to-terminal moves are refused.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ChargeSession is the authorized unit of charging time tied to one payment
// confirmation. The Session Authority is its sole writer.
type ChargeSession struct {
	ID              string        `json:"id"`
	ProviderEventID string        `json:"provider_event_id"`
	DeviceID        string        `json:"device_id"`
	PlanCode        string        `json:"plan_code"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Command rebuilds the charge command for this session. The command is a pure
// function of the session, so a redelivered confirmation yields a byte-for-byte
// identical command.
func (s ChargeSession) Command() ChargeCommand {
	return ChargeCommand{
		Kind:            CommandStartCharge,
		SessionID:       s.ID,
		DeviceID:        s.DeviceID,
		DurationMinutes: s.DurationMinutes,
		IssuedAt:        s.CreatedAt,
	}
}

// Deadline returns the instant after which the session can no longer be
// legitimately active, including the given grace period.
func (s ChargeSession) Deadline(grace time.Duration) time.Time {
	return s.CreatedAt.Add(time.Duration(s.DurationMinutes)*time.Minute + grace)
}
