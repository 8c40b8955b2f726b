// Package session implements the Session Authority: it turns verified payment
// confirmations into exactly one charge command per provider event, reconciles
// status events reported by field controllers and expires sessions that never
// reach a terminal state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voltbay/powerbank/core/channel"
	"github.com/voltbay/powerbank/core/events"
	"github.com/voltbay/powerbank/core/logger"
	"github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/model"
	"github.com/voltbay/powerbank/core/session/audit"
	"github.com/voltbay/powerbank/internal/eventbus"
)

// Authority owns the ChargeSession lifecycle. It is the sole writer of session
// status transitions.
type Authority struct {
	plans model.PlanTable
	store SessionStore
	pub   channel.CommandPublisher
	grace time.Duration
	sink  metrics.MetricsSink
	bus   eventbus.EventBus
	log   logger.Logger

	mu    sync.Mutex
	audit audit.Store
	now   func() time.Time
}

// NewAuthority creates an Authority over the given immutable plan table. The
// sink and bus may be nil.
func NewAuthority(plans model.PlanTable, store SessionStore, pub channel.CommandPublisher, grace time.Duration, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Authority, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("command publisher is required")
	}
	if plans.Len() == 0 {
		return nil, fmt.Errorf("plan table is empty")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Authority{
		plans: plans,
		store: store,
		pub:   pub,
		grace: grace,
		sink:  sink,
		bus:   bus,
		log:   log,
		now:   time.Now,
	}, nil
}

// SetAuditStore configures the store used to persist session records. Existing
// records are replayed into the session store, which restores the dedup
// seen-set after a restart.
func (a *Authority) SetAuditStore(ctx context.Context, st audit.Store) error {
	recs, err := st.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay audit log: %w", err)
	}
	latest := make(map[string]model.ChargeSession)
	var order []string
	for _, r := range recs {
		if _, ok := latest[r.Session.ID]; !ok {
			order = append(order, r.Session.ID)
		}
		latest[r.Session.ID] = r.Session
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range order {
		sess := latest[id]
		if _, ok := a.store.Get(id); ok {
			if err := a.store.SetStatus(id, sess.Status, sess.UpdatedAt); err != nil {
				return err
			}
			continue
		}
		if err := a.store.Create(sess); err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
	}
	if len(order) > 0 {
		a.log.Infof("restored %d sessions from audit log", len(order))
	}
	a.audit = st
	return nil
}

// HandlePaymentConfirmation validates a payment confirmation and dispatches at
// most one charge command for it. A redelivered confirmation returns the
// previously issued command without publishing again. An amount or plan that
// is not in the pricing table is rejected and no session is created.
//
// When the channel publish fails after its bounded retries the session is left
// in Dispatched; the sweep will expire it if no controller ever reports.
func (a *Authority) HandlePaymentConfirmation(pc model.PaymentConfirmation) (model.ChargeCommand, error) {
	a.mu.Lock()
	if sess, ok := a.store.GetByEvent(pc.ProviderEventID); ok {
		a.mu.Unlock()
		a.log.Infof("duplicate confirmation for event %s, session %s", pc.ProviderEventID, sess.ID)
		if err := a.sink.RecordDuplicateConfirmation(pc.ProviderEventID); err != nil {
			a.log.Errorf("record duplicate: %v", err)
		}
		return sess.Command(), nil
	}
	plan, ok := a.plans.ByCode(pc.PlanCode)
	if !ok || plan.RequiredAmount != pc.PaidAmount {
		a.mu.Unlock()
		if err := a.sink.RecordRejection("unsupported_amount"); err != nil {
			a.log.Errorf("record rejection: %v", err)
		}
		return model.ChargeCommand{}, fmt.Errorf("plan %q amount %d: %w", pc.PlanCode, pc.PaidAmount, ErrUnsupportedAmount)
	}
	if pc.DeviceID == "" {
		a.mu.Unlock()
		if err := a.sink.RecordRejection("missing_device"); err != nil {
			a.log.Errorf("record rejection: %v", err)
		}
		return model.ChargeCommand{}, fmt.Errorf("event %s: missing device id", pc.ProviderEventID)
	}
	now := a.now()
	sess := model.ChargeSession{
		ID:              model.SessionID(pc.ProviderEventID),
		ProviderEventID: pc.ProviderEventID,
		DeviceID:        pc.DeviceID,
		PlanCode:        plan.Code,
		DurationMinutes: plan.DurationMinutes,
		Status:          model.StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.Create(sess); err != nil {
		a.mu.Unlock()
		return model.ChargeCommand{}, fmt.Errorf("create session: %w", err)
	}
	// Dispatched marks the hand-off to the channel, not delivery.
	sess.Status = model.StatusDispatched
	if err := a.store.SetStatus(sess.ID, model.StatusDispatched, now); err != nil {
		a.mu.Unlock()
		return model.ChargeCommand{}, err
	}
	a.mu.Unlock()

	a.appendAudit(sess)
	if a.bus != nil {
		a.bus.Publish(events.SessionEvent{Session: sess})
	}
	cmd := sess.Command()
	if err := a.pub.Publish(cmd); err != nil {
		a.log.Errorf("publish command for session %s: %v", sess.ID, err)
		return cmd, err
	}
	if err := a.sink.RecordCommandIssued(cmd); err != nil {
		a.log.Errorf("record command: %v", err)
	}
	a.log.Infof("dispatched session %s to %s (%d minutes)", sess.ID, sess.DeviceID, sess.DurationMinutes)
	return cmd, nil
}

// Quote is the reply to a session request from the payment-link collaborator.
// The reference is provisional: the authoritative session is created only when
// the payment confirmation arrives.
type Quote struct {
	Reference       string `json:"reference"`
	PlanCode        string `json:"plan_code"`
	RequiredAmount  int    `json:"required_amount"`
	DurationMinutes int    `json:"duration_minutes"`
	DeviceID        string `json:"device_id"`
}

// CreateSession answers a session request for the given plan and device.
func (a *Authority) CreateSession(planCode, deviceID string) (Quote, error) {
	plan, ok := a.plans.ByCode(planCode)
	if !ok {
		if err := a.sink.RecordRejection("unsupported_plan"); err != nil {
			a.log.Errorf("record rejection: %v", err)
		}
		return Quote{}, fmt.Errorf("plan %q: %w", planCode, ErrUnsupportedPlan)
	}
	return Quote{
		Reference:       uuid.NewString(),
		PlanCode:        plan.Code,
		RequiredAmount:  plan.RequiredAmount,
		DurationMinutes: plan.DurationMinutes,
		DeviceID:        deviceID,
	}, nil
}

// HandleStatusEvent advances the session along the legal edge
// Dispatched -> Started -> {Completed, Errored}. Duplicates, unknown sessions
// and out-of-order events are logged and dropped; status never regresses.
func (a *Authority) HandleStatusEvent(ev model.StatusEvent) {
	st, ok := ev.SessionStatus()
	if !ok {
		a.log.Warnf("unknown status kind %q for session %s, dropping", ev.Kind, ev.SessionID)
		a.recordStatus(ev, false)
		return
	}
	a.mu.Lock()
	sess, found := a.store.Get(ev.SessionID)
	if !found {
		a.mu.Unlock()
		a.log.Warnf("status %s for unknown session %s, dropping", ev.Kind, ev.SessionID)
		a.recordStatus(ev, false)
		return
	}
	if !sess.Status.CanAdvanceTo(st) {
		a.mu.Unlock()
		a.log.Warnf("session %s: %s -> %s is not a forward transition, dropping", ev.SessionID, sess.Status, st)
		a.recordStatus(ev, false)
		return
	}
	now := a.now()
	if err := a.store.SetStatus(sess.ID, st, now); err != nil {
		a.mu.Unlock()
		a.log.Errorf("set status: %v", err)
		return
	}
	sess.Status = st
	sess.UpdatedAt = now
	a.mu.Unlock()

	a.appendAudit(sess)
	a.recordStatus(ev, true)
	if a.bus != nil {
		a.bus.Publish(events.StatusAppliedEvent{Event: ev, Status: st})
	}
	a.log.Infof("session %s advanced to %s", sess.ID, st)
}

// SweepExpired force-expires sessions still Dispatched or Started past their
// authorized duration plus the grace period. It protects against controllers
// that silently failed to report. Returns the number of expired sessions.
func (a *Authority) SweepExpired(now time.Time) int {
	a.mu.Lock()
	var expired []model.ChargeSession
	for _, sess := range a.store.List() {
		if sess.Status != model.StatusDispatched && sess.Status != model.StatusStarted {
			continue
		}
		if !now.After(sess.Deadline(a.grace)) {
			continue
		}
		if err := a.store.SetStatus(sess.ID, model.StatusExpired, now); err != nil {
			a.log.Errorf("expire session %s: %v", sess.ID, err)
			continue
		}
		sess.Status = model.StatusExpired
		sess.UpdatedAt = now
		expired = append(expired, sess)
	}
	a.mu.Unlock()

	for _, sess := range expired {
		a.log.Warnf("session %s expired without terminal status", sess.ID)
		a.appendAudit(sess)
		if a.bus != nil {
			a.bus.Publish(events.SessionExpiredEvent{Session: sess})
		}
	}
	if len(expired) > 0 {
		if err := a.sink.RecordSessionsExpired(len(expired)); err != nil {
			a.log.Errorf("record expired: %v", err)
		}
	}
	return len(expired)
}

// Run sweeps expired sessions at the given interval until the context is
// cancelled.
func (a *Authority) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.SweepExpired(a.now())
		case <-ctx.Done():
			return
		}
	}
}

func (a *Authority) appendAudit(sess model.ChargeSession) {
	a.mu.Lock()
	st := a.audit
	a.mu.Unlock()
	if st == nil {
		return
	}
	rec := audit.Record{Timestamp: a.now(), Session: sess}
	if err := st.Append(context.Background(), rec); err != nil {
		a.log.Errorf("audit append: %v", err)
	}
}

func (a *Authority) recordStatus(ev model.StatusEvent, applied bool) {
	if err := a.sink.RecordStatusEvent(ev, applied); err != nil {
		a.log.Errorf("record status: %v", err)
	}
}
