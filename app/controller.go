package app

import (
	"context"
	"fmt"
	"io"

	"github.com/voltbay/powerbank/config"
	coremetrics "github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/model"
	"github.com/voltbay/powerbank/core/relay"
	"github.com/voltbay/powerbank/infra/gpio"
	"github.com/voltbay/powerbank/infra/logger"
	"github.com/voltbay/powerbank/infra/metrics"
	"github.com/voltbay/powerbank/infra/mqtt"
)

// newActuationRecorder composes the enabled metric sinks into the recorder
// handed to the relay controller. Relay state and actuation durations go to
// every enabled backend.
func newActuationRecorder(cfg coremetrics.Config) (coremetrics.ActuationRecorder, error) {
	var recs []coremetrics.ActuationRecorder
	if cfg.PrometheusEnabled {
		s, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		recs = append(recs, s)
	}
	if cfg.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		if rec, ok := sink.(coremetrics.ActuationRecorder); ok {
			recs = append(recs, rec)
		}
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	}
	return metrics.NewMultiActuation(recs...), nil
}

// ControllerService runs the field controller for one charging bay.
type ControllerService struct {
	Controller *relay.Controller

	channel     *mqtt.PahoChannel
	driver      relay.Driver
	deviceID    string
	log         logger.Logger
	promEnabled bool
	promAddr    string
}

// NewControllerService creates the service from the configuration. The relay
// output is forced off before the service accepts any command.
func NewControllerService(cfg *config.Config) (*ControllerService, error) {
	if err := cfg.Controller.Validate(); err != nil {
		return nil, fmt.Errorf("controller config: %w", err)
	}
	logg := logger.New("controller")
	ch, err := mqtt.NewPahoChannel(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt channel: %w", err)
	}

	var driver relay.Driver
	switch cfg.Hardware.Driver {
	case "nop":
		driver = relay.NopDriver{}
	default:
		d, err := gpio.NewSysfsDriver(cfg.Hardware)
		if err != nil {
			ch.Disconnect()
			return nil, fmt.Errorf("gpio driver: %w", err)
		}
		driver = d
	}

	sink, err := newActuationRecorder(cfg.Metrics)
	if err != nil {
		ch.Disconnect()
		return nil, err
	}

	ctrl, err := relay.New(cfg.Controller, driver, ch, sink, logg)
	if err != nil {
		ch.Disconnect()
		return nil, fmt.Errorf("relay controller: %w", err)
	}
	return &ControllerService{
		Controller:  ctrl,
		channel:     ch,
		driver:      driver,
		deviceID:    cfg.Controller.DeviceID,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promAddr:    cfg.Metrics.PrometheusAddr,
	}, nil
}

// Run subscribes to the device command topic and blocks until the context is
// cancelled.
func (s *ControllerService) Run(ctx context.Context) error {
	err := s.channel.SubscribeCommands(s.deviceID, func(cmd model.ChargeCommand) {
		if err := s.Controller.HandleCommand(cmd); err != nil {
			s.log.Warnf("command for session %s refused: %v", cmd.SessionID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.log.Infof("field controller ready for device %s", s.deviceID)
	<-ctx.Done()
	return nil
}

// Close forces the relay off and releases resources.
func (s *ControllerService) Close() error {
	err := s.Controller.Close()
	s.channel.Disconnect()
	if c, ok := s.driver.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
