package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voltbay/powerbank/core/model"
)

type statusRecorder struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *statusRecorder) PublishStatus(ev model.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *statusRecorder) snapshot() []model.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatusEvent{}, r.events...)
}

func (r *statusRecorder) last() (model.StatusEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return model.StatusEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newTestController(t *testing.T, cfg Config, driver *MockDriver, rec *statusRecorder) *Controller {
	t.Helper()
	if cfg.DeviceID == "" {
		cfg.DeviceID = "bay-1"
	}
	c, err := New(cfg, driver, rec, nil, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	// One authorized minute shrinks to 20ms so deadlines fire in-test.
	c.unit = 20 * time.Millisecond
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func startCmd(session string, minutes int) model.ChargeCommand {
	return model.ChargeCommand{
		Kind:            model.CommandStartCharge,
		SessionID:       session,
		DeviceID:        "bay-1",
		DurationMinutes: minutes,
	}
}

func waitCompleted(t *testing.T, rec *statusRecorder) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		ev, ok := rec.last()
		return ok && ev.Kind == model.StatusKindCompleted
	})
}

func TestNewForcesOutputOff(t *testing.T) {
	driver := &MockDriver{}
	newTestController(t, Config{}, driver, &statusRecorder{})
	if driver.Energized() {
		t.Fatalf("output energized after construction")
	}
	if len(driver.Transitions) == 0 || driver.Transitions[0].On {
		t.Fatalf("construction did not force the output off: %#v", driver.Transitions)
	}
}

func TestDeadlineShutoff(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 2)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !driver.Energized() {
		t.Fatalf("relay not energized after start")
	}
	if c.State() != StateEnergized {
		t.Fatalf("state %s", c.State())
	}

	waitCompleted(t, rec)
	if driver.Energized() {
		t.Fatalf("relay still energized past deadline")
	}
	if c.State() != StateIdle {
		t.Fatalf("state %s after shutoff", c.State())
	}
	events := rec.snapshot()
	if len(events) != 2 || events[0].Kind != model.StatusKindStarted || events[1].Kind != model.StatusKindCompleted {
		t.Fatalf("events %#v", events)
	}
	if events[1].SessionID != "s1" || events[1].DeviceID != "bay-1" {
		t.Fatalf("completed event %#v", events[1])
	}
	if driver.OnCount() != 1 {
		t.Fatalf("relay energized %d times", driver.OnCount())
	}
}

type blockingPublisher struct{}

func (blockingPublisher) PublishStatus(model.StatusEvent) error {
	select {}
}

func TestShutoffWithStalledStatusPath(t *testing.T) {
	driver := &MockDriver{}
	c, err := New(Config{DeviceID: "bay-1"}, driver, blockingPublisher{}, nil, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	c.unit = 20 * time.Millisecond

	// The command path wedges on its status report. The deadline timer runs on
	// its own goroutine and must still de-energize on schedule.
	go func() { _ = c.HandleCommand(startCmd("s1", 1)) }()
	waitFor(t, 2*time.Second, driver.Energized)
	waitFor(t, 2*time.Second, func() bool { return !driver.Energized() })
}

func TestDuplicateCommandAbsorbed(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	cmd := startCmd("s1", 3)
	if err := c.HandleCommand(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Redelivery while active: silent, no re-energize, no new deadline.
	if err := c.HandleCommand(cmd); err != nil {
		t.Fatalf("duplicate while active: %v", err)
	}
	if driver.OnCount() != 1 {
		t.Fatalf("duplicate re-energized the relay")
	}

	waitCompleted(t, rec)

	// Redelivery after completion: still silent.
	if err := c.HandleCommand(cmd); err != nil {
		t.Fatalf("duplicate after completion: %v", err)
	}
	if driver.OnCount() != 1 {
		t.Fatalf("post-completion duplicate re-energized the relay")
	}
	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("duplicates emitted status events: %#v", events)
	}
}

func TestCrossDeviceCommandRefused(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	cmd := startCmd("s1", 2)
	cmd.DeviceID = "bay-9"
	err := c.HandleCommand(cmd)
	if !errors.Is(err, ErrSafetyViolation) {
		t.Fatalf("want ErrSafetyViolation, got %v", err)
	}
	if driver.OnCount() != 0 {
		t.Fatalf("foreign command actuated the relay")
	}
	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("foreign command emitted status events: %#v", events)
	}

	// A foreign stop must not touch the active session either.
	if err := c.HandleCommand(startCmd("s1", 30)); err != nil {
		t.Fatalf("start: %v", err)
	}
	stop := model.ChargeCommand{Kind: model.CommandStopCharge, SessionID: "s1", DeviceID: "bay-9"}
	if err := c.HandleCommand(stop); !errors.Is(err, ErrSafetyViolation) {
		t.Fatalf("want ErrSafetyViolation for foreign stop, got %v", err)
	}
	if !driver.Energized() {
		t.Fatalf("foreign stop de-energized the relay")
	}
}

func TestCloseLeavesIdleState(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 30)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if driver.Energized() {
		t.Fatalf("relay energized after close")
	}
	if c.State() != StateIdle {
		t.Fatalf("state %s after close", c.State())
	}
}

func TestCloseKeepsFault(t *testing.T) {
	driver := &MockDriver{}
	c := newTestController(t, Config{}, driver, &statusRecorder{})
	c.Fault("overcurrent")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != StateFault {
		t.Fatalf("close cleared the fault, state %s", c.State())
	}
}

func TestDurationBounds(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{MaxDurationMinutes: 60}, driver, rec)

	for _, minutes := range []int{0, -5, 61} {
		err := c.HandleCommand(startCmd("s1", minutes))
		if !errors.Is(err, ErrSafetyViolation) {
			t.Fatalf("%d minutes: want ErrSafetyViolation, got %v", minutes, err)
		}
	}
	if driver.OnCount() != 0 {
		t.Fatalf("out-of-bounds command actuated the relay")
	}
	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("events %#v", events)
	}
	for _, ev := range events {
		if ev.Kind != model.StatusKindError || ev.Reason != "unsafe_duration" {
			t.Fatalf("event %#v", ev)
		}
	}
}

func TestStaleCommandRefused(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	cmd := startCmd("s1", 30)
	cmd.IssuedAt = time.Now().Add(-2 * time.Hour)
	err := c.HandleCommand(cmd)
	if !errors.Is(err, ErrStaleCommand) {
		t.Fatalf("want ErrStaleCommand, got %v", err)
	}
	if driver.OnCount() != 0 {
		t.Fatalf("stale command actuated the relay")
	}
	ev, ok := rec.last()
	if !ok || ev.Kind != model.StatusKindError || ev.Reason != "stale_command" {
		t.Fatalf("event %#v ok=%v", ev, ok)
	}

	// A fresh command with a live window is accepted.
	fresh := startCmd("s2", 30)
	fresh.IssuedAt = time.Now()
	if err := c.HandleCommand(fresh); err != nil {
		t.Fatalf("fresh command: %v", err)
	}
}

func TestBusyRefusesSecondSession(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 30)); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := c.HandleCommand(startCmd("s2", 2))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	if !driver.Energized() {
		t.Fatalf("refusal de-energized the active session")
	}
	ev, ok := rec.last()
	if !ok || ev.SessionID != "s2" || ev.Reason != "busy" {
		t.Fatalf("event %#v ok=%v", ev, ok)
	}
}

func TestCancelShutsOffImmediately(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 30)); err != nil {
		t.Fatalf("start: %v", err)
	}
	stop := model.ChargeCommand{Kind: model.CommandStopCharge, SessionID: "s1", DeviceID: "bay-1"}
	if err := c.HandleCommand(stop); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if driver.Energized() {
		t.Fatalf("relay energized after cancel")
	}
	ev, ok := rec.last()
	if !ok || ev.Kind != model.StatusKindCompleted || ev.Reason != "cancelled" {
		t.Fatalf("event %#v ok=%v", ev, ok)
	}

	// Cancels for sessions that are not active are ordering noise, dropped.
	if err := c.Cancel("s9"); err != nil {
		t.Fatalf("inactive cancel: %v", err)
	}
}

func TestCooldownRefusesThenRecovers(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{CooldownSeconds: 1}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 1)); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitCompleted(t, rec)
	if c.State() != StateCooldown {
		t.Fatalf("state %s after finish with cooldown configured", c.State())
	}
	err := c.HandleCommand(startCmd("s2", 1))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy during cooldown, got %v", err)
	}
	ev, ok := rec.last()
	if !ok || ev.Reason != "cooldown" {
		t.Fatalf("event %#v ok=%v", ev, ok)
	}
}

func TestHardwareFaultOnEnergize(t *testing.T) {
	driver := &MockDriver{FailOn: true}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 2)); err == nil {
		t.Fatalf("expected energize failure")
	}
	if c.State() != StateFault {
		t.Fatalf("state %s", c.State())
	}
	ev, ok := rec.last()
	if !ok || ev.Reason != "hardware_fault" {
		t.Fatalf("event %#v ok=%v", ev, ok)
	}

	// Faulted controllers refuse everything until reset.
	err := c.HandleCommand(startCmd("s2", 2))
	if !errors.Is(err, ErrFaulted) {
		t.Fatalf("want ErrFaulted, got %v", err)
	}

	driver.FailOn = false
	if err := c.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state %s after reset", c.State())
	}
	if err := c.HandleCommand(startCmd("s2", 2)); err != nil {
		t.Fatalf("start after reset: %v", err)
	}
}

func TestExternalFaultTrip(t *testing.T) {
	driver := &MockDriver{}
	rec := &statusRecorder{}
	c := newTestController(t, Config{}, driver, rec)

	if err := c.HandleCommand(startCmd("s1", 30)); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Fault("overcurrent")
	if driver.Energized() {
		t.Fatalf("relay energized after fault trip")
	}
	if c.State() != StateFault {
		t.Fatalf("state %s", c.State())
	}
	ev, ok := rec.last()
	if !ok || ev.SessionID != "s1" || ev.Kind != model.StatusKindError || ev.Reason != "overcurrent" {
		t.Fatalf("event %#v ok=%v", ev, ok)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestResetOnlyFromFault(t *testing.T) {
	driver := &MockDriver{}
	c := newTestController(t, Config{}, driver, &statusRecorder{})
	if err := c.Reset(); err == nil {
		t.Fatalf("reset accepted in idle state")
	}
}

func TestUnsupportedCommandKind(t *testing.T) {
	driver := &MockDriver{}
	c := newTestController(t, Config{}, driver, &statusRecorder{})
	cmd := startCmd("s1", 2)
	cmd.Kind = model.CommandKind("reboot")
	if err := c.HandleCommand(cmd); err == nil {
		t.Fatalf("unsupported kind accepted")
	}
	if driver.OnCount() != 0 {
		t.Fatalf("unsupported kind actuated the relay")
	}
}
