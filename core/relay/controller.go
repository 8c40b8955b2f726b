// Package relay implements the field controller: a state machine that drives
// a single charging bay relay for the authorized duration of each session.
//
// The shutoff deadline is armed with time.AfterFunc, which fires on the
// runtime timer goroutine regardless of whether the command-handling path is
// healthy. A stalled message loop therefore cannot keep the relay energized
// past its deadline.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/voltbay/powerbank/core/channel"
	"github.com/voltbay/powerbank/core/logger"
	"github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/model"
)

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateEnergized
	StateCooldown
	StateFault
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnergized:
		return "energized"
	case StateCooldown:
		return "cooldown"
	case StateFault:
		return "fault"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Config defines the controller identity and safety bounds.
type Config struct {
	DeviceID string `json:"device_id"`
	// MaxDurationMinutes bounds the duration a command may request.
	MaxDurationMinutes int `json:"max_duration_minutes"`
	// CooldownSeconds is an optional settle window after each session during
	// which new sessions are refused. Zero disables it.
	CooldownSeconds int `json:"cooldown_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MaxDurationMinutes == 0 {
		c.MaxDurationMinutes = 120
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.MaxDurationMinutes <= 0 {
		return fmt.Errorf("max_duration_minutes must be positive")
	}
	return nil
}

type activeSession struct {
	id        string
	startedAt time.Time
	deadline  time.Time
	timer     *time.Timer
}

// Controller owns the relay output of one charging bay. It is the sole writer
// of the physical output.
type Controller struct {
	cfg    Config
	driver Driver
	status channel.StatusPublisher
	sink   metrics.ActuationRecorder
	log    logger.Logger

	mu       sync.Mutex
	state    State
	active   *activeSession
	lastDone string
	cooldown *time.Timer

	// unit is the wall-clock length of one authorized minute. Tests shrink it
	// to keep actuation intervals short.
	unit time.Duration
	now  func() time.Time
}

// New creates a Controller and forces the relay output off. A restart always
// starts de-energized; prior sessions are never resumed.
func New(cfg Config, driver Driver, status channel.StatusPublisher, sink metrics.ActuationRecorder, log logger.Logger) (*Controller, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("relay driver is required")
	}
	if status == nil {
		return nil, fmt.Errorf("status publisher is required")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if err := driver.Off(); err != nil {
		return nil, fmt.Errorf("force output off: %w", err)
	}
	return &Controller{
		cfg:    cfg,
		driver: driver,
		status: status,
		sink:   sink,
		log:    log,
		state:  StateIdle,
		unit:   time.Minute,
		now:    time.Now,
	}, nil
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleCommand validates and executes a command from the channel. Redelivered
// commands for the active or last finished session are absorbed silently.
func (c *Controller) HandleCommand(cmd model.ChargeCommand) error {
	if cmd.DeviceID != c.cfg.DeviceID {
		// Not ours. No state mutation, no status emission.
		c.log.Warnf("command for device %s on %s, refusing", cmd.DeviceID, c.cfg.DeviceID)
		return fmt.Errorf("device %s does not match %s: %w", cmd.DeviceID, c.cfg.DeviceID, ErrSafetyViolation)
	}
	switch cmd.Kind {
	// An empty kind is treated as start for backward compatibility with
	// payloads that predate the kind field.
	case "", model.CommandStartCharge:
		return c.start(cmd)
	case model.CommandStopCharge:
		return c.Cancel(cmd.SessionID)
	default:
		c.log.Warnf("unsupported command kind %q, dropping", cmd.Kind)
		return fmt.Errorf("unsupported command kind %q", cmd.Kind)
	}
}

func (c *Controller) start(cmd model.ChargeCommand) error {
	c.mu.Lock()
	if c.state == StateFault {
		c.mu.Unlock()
		c.log.Warnf("command %s refused, controller faulted", cmd.SessionID)
		return fmt.Errorf("session %s: %w", cmd.SessionID, ErrFaulted)
	}
	if (c.active != nil && c.active.id == cmd.SessionID) || c.lastDone == cmd.SessionID {
		// Duplicate delivery: neither re-energizes nor restarts the deadline.
		c.mu.Unlock()
		c.log.Debugf("duplicate command for session %s absorbed", cmd.SessionID)
		return nil
	}
	if cmd.DurationMinutes <= 0 || cmd.DurationMinutes > c.cfg.MaxDurationMinutes {
		c.mu.Unlock()
		c.emit(cmd.SessionID, model.StatusKindError, "unsafe_duration")
		return fmt.Errorf("duration %d minutes out of bounds: %w", cmd.DurationMinutes, ErrSafetyViolation)
	}
	now := c.now()
	if !cmd.IssuedAt.IsZero() && !now.Before(cmd.IssuedAt.Add(cmd.Duration())) {
		// A retained command whose window already passed, usually seen after a
		// restart. The session cannot be accounted for, report it errored.
		c.mu.Unlock()
		c.emit(cmd.SessionID, model.StatusKindError, "stale_command")
		return fmt.Errorf("session %s issued at %s: %w", cmd.SessionID, cmd.IssuedAt, ErrStaleCommand)
	}
	if c.state == StateCooldown {
		c.mu.Unlock()
		c.emit(cmd.SessionID, model.StatusKindError, "cooldown")
		return fmt.Errorf("session %s during cooldown: %w", cmd.SessionID, ErrBusy)
	}
	if c.active != nil {
		activeID := c.active.id
		c.mu.Unlock()
		c.emit(cmd.SessionID, model.StatusKindError, "busy")
		return fmt.Errorf("session %s while %s active: %w", cmd.SessionID, activeID, ErrBusy)
	}
	if err := c.driver.On(); err != nil {
		c.state = StateFault
		_ = c.driver.Off()
		c.mu.Unlock()
		c.emit(cmd.SessionID, model.StatusKindError, "hardware_fault")
		return fmt.Errorf("energize: %w", err)
	}
	d := time.Duration(cmd.DurationMinutes) * c.unit
	id := cmd.SessionID
	sess := &activeSession{id: id, startedAt: now, deadline: now.Add(d)}
	sess.timer = time.AfterFunc(d, func() { c.expire(id) })
	c.active = sess
	c.state = StateEnergized
	c.mu.Unlock()

	c.recordRelay(true)
	c.emit(id, model.StatusKindStarted, "")
	c.log.Infof("energized for session %s (%d minutes)", id, cmd.DurationMinutes)
	return nil
}

// expire is invoked by the deadline timer. It is authoritative: the relay goes
// off at the deadline no matter what the command path is doing.
func (c *Controller) expire(id string) {
	c.finish(id, "")
}

// Cancel shuts off immediately if the session is active. Cancels for inactive
// sessions are dropped as ordering anomalies.
func (c *Controller) Cancel(sessionID string) error {
	c.mu.Lock()
	if c.active == nil || c.active.id != sessionID {
		c.mu.Unlock()
		c.log.Warnf("cancel for inactive session %s, dropping", sessionID)
		return nil
	}
	c.active.timer.Stop()
	c.mu.Unlock()
	c.finish(sessionID, "cancelled")
	return nil
}

// finish performs the common shutoff path for deadline expiry and cancel.
func (c *Controller) finish(id, reason string) {
	c.mu.Lock()
	if c.state != StateEnergized || c.active == nil || c.active.id != id {
		c.mu.Unlock()
		return
	}
	startedAt := c.active.startedAt
	offErr := c.driver.Off()
	c.active = nil
	c.lastDone = id
	if offErr != nil {
		// Output state is unknown, this is a hardware fault.
		c.state = StateFault
		c.mu.Unlock()
		c.emit(id, model.StatusKindError, "hardware_fault")
		c.log.Errorf("de-energize for session %s: %v", id, offErr)
		return
	}
	if c.cfg.CooldownSeconds > 0 {
		c.state = StateCooldown
		c.cooldown = time.AfterFunc(time.Duration(c.cfg.CooldownSeconds)*time.Second, c.cooldownDone)
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.recordRelay(false)
	c.recordActuation(c.now().Sub(startedAt))
	c.emit(id, model.StatusKindCompleted, reason)
	c.log.Infof("de-energized for session %s", id)
}

func (c *Controller) cooldownDone() {
	c.mu.Lock()
	if c.state == StateCooldown {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// Fault forces the output off and refuses all further commands until Reset.
// It is the entry point for over-current and sensor trips.
func (c *Controller) Fault(reason string) {
	c.mu.Lock()
	var id string
	if c.active != nil {
		c.active.timer.Stop()
		id = c.active.id
		c.active = nil
	}
	_ = c.driver.Off()
	c.state = StateFault
	c.mu.Unlock()

	c.recordRelay(false)
	if id != "" {
		c.emit(id, model.StatusKindError, reason)
	}
	c.log.Errorf("controller faulted: %s", reason)
}

// Reset returns a faulted controller to Idle after operator intervention.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFault {
		return fmt.Errorf("reset in state %s", c.state)
	}
	if err := c.driver.Off(); err != nil {
		return fmt.Errorf("force output off: %w", err)
	}
	c.state = StateIdle
	return nil
}

// Close stops timers and forces the output off.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.active != nil {
		c.active.timer.Stop()
		c.active = nil
	}
	if c.cooldown != nil {
		c.cooldown.Stop()
	}
	err := c.driver.Off()
	// A fault survives Close; everything else lands back in Idle.
	if c.state != StateFault {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.recordRelay(false)
	return err
}

func (c *Controller) emit(sessionID string, kind model.StatusKind, reason string) {
	ev := model.StatusEvent{
		SessionID: sessionID,
		DeviceID:  c.cfg.DeviceID,
		Kind:      kind,
		Reason:    reason,
		At:        c.now(),
	}
	if err := c.status.PublishStatus(ev); err != nil {
		c.log.Errorf("publish status %s for session %s: %v", kind, sessionID, err)
	}
}

func (c *Controller) recordRelay(on bool) {
	if err := c.sink.RecordRelayState(c.cfg.DeviceID, on); err != nil {
		c.log.Errorf("record relay state: %v", err)
	}
}

func (c *Controller) recordActuation(d time.Duration) {
	if err := c.sink.RecordActuation(c.cfg.DeviceID, d); err != nil {
		c.log.Errorf("record actuation: %v", err)
	}
}
