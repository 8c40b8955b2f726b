package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/model"
	"github.com/voltbay/powerbank/infra/logger"
)

// InfluxSink writes session and actuation events to an InfluxDB instance for
// the audit/dashboard side, using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

var _ coremetrics.MetricsSink = (*InfluxSink)(nil)
var _ coremetrics.ActuationRecorder = (*InfluxSink)(nil)

func (s *InfluxSink) RecordCommandIssued(cmd model.ChargeCommand) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charge_command").
		AddTag("device_id", cmd.DeviceID).
		AddTag("session_id", cmd.SessionID).
		AddField("duration_minutes", cmd.DurationMinutes).
		SetTime(cmd.IssuedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordDuplicateConfirmation(providerEventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("duplicate_confirmation").
		AddTag("provider_event_id", providerEventID).
		AddField("count", 1).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordRejection(reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("rejection").
		AddTag("reason", reason).
		AddField("count", 1).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordStatusEvent(ev model.StatusEvent, applied bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("status_event").
		AddTag("device_id", ev.DeviceID).
		AddTag("session_id", ev.SessionID).
		AddTag("kind", string(ev.Kind)).
		AddTag("applied", strconv.FormatBool(applied)).
		AddField("reason", ev.Reason).
		SetTime(ev.At)
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordSessionsExpired(n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sessions_expired").
		AddField("count", n).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordRelayState(deviceID string, energized bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("relay_state").
		AddTag("device_id", deviceID).
		AddField("energized", energized).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordActuation(deviceID string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("actuation").
		AddTag("device_id", deviceID).
		AddField("duration_seconds", d.Seconds()).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }
