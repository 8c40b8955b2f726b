package metrics

import (
	"time"

	"github.com/voltbay/powerbank/core/model"
)

// MetricsSink records Session Authority events for observability purposes.
type MetricsSink interface {
	// RecordCommandIssued is called once per session when its charge command
	// is handed to the command channel.
	RecordCommandIssued(cmd model.ChargeCommand) error
	// RecordDuplicateConfirmation is called when a redelivered confirmation is
	// absorbed without dispatching.
	RecordDuplicateConfirmation(providerEventID string) error
	// RecordRejection is called when a confirmation or session request is
	// refused before any session is created.
	RecordRejection(reason string) error
	// RecordStatusEvent is called for every status event that advanced a
	// session, and for dropped anomalies with applied=false.
	RecordStatusEvent(ev model.StatusEvent, applied bool) error
	// RecordSessionsExpired is called after a sweep with the number of
	// sessions force-expired.
	RecordSessionsExpired(n int) error
}

// ActuationRecorder records field controller relay activity.
type ActuationRecorder interface {
	// RecordRelayState reports the relay output level for a device.
	RecordRelayState(deviceID string, energized bool) error
	// RecordActuation reports the measured energized interval of a completed
	// session.
	RecordActuation(deviceID string, d time.Duration) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordCommandIssued(model.ChargeCommand) error   { return nil }
func (NopSink) RecordDuplicateConfirmation(string) error        { return nil }
func (NopSink) RecordRejection(string) error                    { return nil }
func (NopSink) RecordStatusEvent(model.StatusEvent, bool) error { return nil }
func (NopSink) RecordSessionsExpired(int) error                 { return nil }
func (NopSink) RecordRelayState(string, bool) error             { return nil }
func (NopSink) RecordActuation(string, time.Duration) error     { return nil }
