package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/model"
)

// PromSink records session and actuation events in Prometheus metrics.
type PromSink struct {
	commands   *prometheus.CounterVec
	duplicates prometheus.Counter
	rejections *prometheus.CounterVec
	statuses   *prometheus.CounterVec
	expired    prometheus.Counter
	relay      *prometheus.GaugeVec
	actuation  *prometheus.HistogramVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The Prometheus server should be started separately via StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "charge_commands_issued_total",
		Help: "Charge commands handed to the command channel",
	}, []string{"device_id"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_confirmations_duplicate_total",
		Help: "Redelivered payment confirmations absorbed without dispatch",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confirmations_rejected_total",
		Help: "Confirmations and session requests rejected before dispatch",
	}, []string{"reason"})
	statuses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_events_total",
		Help: "Status events received from field controllers",
	}, []string{"kind", "applied"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_expired_total",
		Help: "Sessions force-expired by the sweep",
	})
	relay := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_energized",
		Help: "Relay output level per device (1 energized, 0 off)",
	}, []string{"device_id"})
	actuation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "actuation_duration_seconds",
		Help:    "Measured energized interval per completed session",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"device_id"})

	s := &PromSink{
		commands:   commands,
		duplicates: duplicates,
		rejections: rejections,
		statuses:   statuses,
		expired:    expired,
		relay:      relay,
		actuation:  actuation,
	}
	collectors := []prometheus.Collector{commands, duplicates, rejections, statuses, expired, relay, actuation}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch i {
			case 0:
				s.commands = are.ExistingCollector.(*prometheus.CounterVec)
			case 1:
				s.duplicates = are.ExistingCollector.(prometheus.Counter)
			case 2:
				s.rejections = are.ExistingCollector.(*prometheus.CounterVec)
			case 3:
				s.statuses = are.ExistingCollector.(*prometheus.CounterVec)
			case 4:
				s.expired = are.ExistingCollector.(prometheus.Counter)
			case 5:
				s.relay = are.ExistingCollector.(*prometheus.GaugeVec)
			case 6:
				s.actuation = are.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
	}
	return s, nil
}

var _ coremetrics.MetricsSink = (*PromSink)(nil)
var _ coremetrics.ActuationRecorder = (*PromSink)(nil)

func (s *PromSink) RecordCommandIssued(cmd model.ChargeCommand) error {
	s.commands.WithLabelValues(cmd.DeviceID).Inc()
	return nil
}

func (s *PromSink) RecordDuplicateConfirmation(string) error {
	s.duplicates.Inc()
	return nil
}

func (s *PromSink) RecordRejection(reason string) error {
	s.rejections.WithLabelValues(reason).Inc()
	return nil
}

func (s *PromSink) RecordStatusEvent(ev model.StatusEvent, applied bool) error {
	s.statuses.WithLabelValues(string(ev.Kind), strconv.FormatBool(applied)).Inc()
	return nil
}

func (s *PromSink) RecordSessionsExpired(n int) error {
	s.expired.Add(float64(n))
	return nil
}

func (s *PromSink) RecordRelayState(deviceID string, energized bool) error {
	v := 0.0
	if energized {
		v = 1
	}
	s.relay.WithLabelValues(deviceID).Set(v)
	return nil
}

func (s *PromSink) RecordActuation(deviceID string, d time.Duration) error {
	s.actuation.WithLabelValues(deviceID).Observe(d.Seconds())
	return nil
}
