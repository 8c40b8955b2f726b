package metrics

import (
	"errors"
	"time"

	coremetrics "github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/model"
)

// MultiSink fans records out to several sinks, collecting errors.
type MultiSink struct {
	sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink from the given sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

var _ coremetrics.MetricsSink = (*MultiSink)(nil)

func (m *MultiSink) RecordCommandIssued(cmd model.ChargeCommand) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordCommandIssued(cmd))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordDuplicateConfirmation(id string) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordDuplicateConfirmation(id))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordRejection(reason string) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordRejection(reason))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordStatusEvent(ev model.StatusEvent, applied bool) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordStatusEvent(ev, applied))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordSessionsExpired(n int) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordSessionsExpired(n))
	}
	return errors.Join(errs...)
}

// MultiActuation fans actuation records out to several recorders.
type MultiActuation struct {
	recs []coremetrics.ActuationRecorder
}

// NewMultiActuation creates a MultiActuation from the given recorders.
func NewMultiActuation(recs ...coremetrics.ActuationRecorder) *MultiActuation {
	return &MultiActuation{recs: recs}
}

var _ coremetrics.ActuationRecorder = (*MultiActuation)(nil)

func (m *MultiActuation) RecordRelayState(deviceID string, energized bool) error {
	var errs []error
	for _, r := range m.recs {
		errs = append(errs, r.RecordRelayState(deviceID, energized))
	}
	return errors.Join(errs...)
}

func (m *MultiActuation) RecordActuation(deviceID string, d time.Duration) error {
	var errs []error
	for _, r := range m.recs {
		errs = append(errs, r.RecordActuation(deviceID, d))
	}
	return errors.Join(errs...)
}
