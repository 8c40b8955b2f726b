package model

import "time"

// CommandKind discriminates the command envelope on the wire.
type CommandKind string

const (
	CommandStartCharge CommandKind = "start_charge"
	CommandStopCharge  CommandKind = "stop_charge"
)

// PaymentConfirmation is a verified payment event as delivered by the
// payment-provider webhook collaborator. The provider may redeliver the same
// logical payment any number of times; ProviderEventID is the dedup key.
type PaymentConfirmation struct {
	ProviderEventID string `json:"provider_event_id"`
	DeviceID        string `json:"device_id"`
	PlanCode        string `json:"plan_code"`
	PaidAmount      int    `json:"paid_amount"`
}

// ChargeCommand instructs a field controller to energize its relay for the
// authorized duration. Commands are immutable values; the channel may deliver
// them more than once.
type ChargeCommand struct {
	Kind            CommandKind `json:"command"`
	SessionID       string      `json:"session_id"`
	DeviceID        string      `json:"device_id"`
	DurationMinutes int         `json:"duration_minutes"`
	IssuedAt        time.Time   `json:"issued_at"`
}

// Duration returns the authorized actuation time.
func (c ChargeCommand) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}
