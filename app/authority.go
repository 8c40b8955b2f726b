// Package app wires configuration, transport and sinks into the two runnable
// services: the server-side Session Authority and the device-side field
// controller.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/voltbay/powerbank/config"
	"github.com/voltbay/powerbank/core/events"
	coremetrics "github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/session"
	"github.com/voltbay/powerbank/core/session/audit"
	"github.com/voltbay/powerbank/infra/logger"
	"github.com/voltbay/powerbank/infra/metrics"
	"github.com/voltbay/powerbank/infra/mqtt"
	"github.com/voltbay/powerbank/internal/eventbus"
)

// AuthorityService runs the Session Authority against the MQTT channel.
type AuthorityService struct {
	Authority *session.Authority

	channel       *mqtt.PahoChannel
	bus           eventbus.EventBus
	audit         audit.Store
	log           logger.Logger
	promEnabled   bool
	promAddr      string
	sweepInterval time.Duration
}

// NewAuthorityService creates the service from the configuration.
func NewAuthorityService(cfg *config.Config) (*AuthorityService, error) {
	logg := logger.New("authority")
	ch, err := mqtt.NewPahoChannel(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt channel: %w", err)
	}

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.MetricsSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	plans, err := cfg.Pricing.Table()
	if err != nil {
		return nil, fmt.Errorf("pricing table: %w", err)
	}
	bus := eventbus.New()
	grace := time.Duration(cfg.Authority.GracePeriodMinutes) * time.Minute
	auth, err := session.NewAuthority(plans, session.NewMemoryStore(), ch, grace, sink, bus, logg)
	if err != nil {
		return nil, fmt.Errorf("session authority: %w", err)
	}

	svc := &AuthorityService{
		Authority:     auth,
		channel:       ch,
		bus:           bus,
		log:           logg,
		promEnabled:   cfg.Metrics.PrometheusEnabled,
		promAddr:      cfg.Metrics.PrometheusAddr,
		sweepInterval: time.Duration(cfg.Authority.SweepIntervalSeconds) * time.Second,
	}
	if cfg.Audit.Enabled {
		st, err := audit.NewJSONLStore(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		if err := auth.SetAuditStore(context.Background(), st); err != nil {
			return nil, err
		}
		svc.audit = st
	}
	if err := ch.SubscribeStatus(auth.HandleStatusEvent); err != nil {
		return nil, fmt.Errorf("subscribe status: %w", err)
	}
	return svc, nil
}

// Bus exposes the lifecycle event bus so additional observers can attach
// before Run.
func (s *AuthorityService) Bus() eventbus.EventBus { return s.bus }

// observeLifecycle drains the event bus into the service log, the built-in
// observer every deployment gets.
func (s *AuthorityService) observeLifecycle(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			switch ev := e.(type) {
			case events.SessionEvent:
				s.log.Infof("session %s dispatched to %s (%d minutes)",
					ev.Session.ID, ev.Session.DeviceID, ev.Session.DurationMinutes)
			case events.StatusAppliedEvent:
				s.log.Infof("session %s reported %s by %s",
					ev.Event.SessionID, ev.Status, ev.Event.DeviceID)
			case events.SessionExpiredEvent:
				s.log.Warnf("session %s on %s expired without terminal status",
					ev.Session.ID, ev.Session.DeviceID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the sweep loop and blocks until the context is cancelled.
func (s *AuthorityService) Run(ctx context.Context) error {
	go s.Authority.Run(ctx, s.sweepInterval)
	go s.observeLifecycle(ctx)
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *AuthorityService) Close() error {
	s.channel.Disconnect()
	if s.bus != nil {
		s.bus.Close()
	}
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}
