package channel

import (
	"fmt"
	"sync"

	"github.com/voltbay/powerbank/core/model"
)

// MockChannel is an in-memory Channel used in tests. It retains the latest
// command per device and delivers synchronously, which makes duplicate and
// offline-then-subscribe scenarios easy to script.
type MockChannel struct {
	mu          sync.Mutex
	retained    map[string]model.ChargeCommand
	cmdSubs     map[string][]func(model.ChargeCommand)
	statusSubs  []func(model.StatusEvent)
	FailDevices map[string]bool
	Published   []model.ChargeCommand
	Statuses    []model.StatusEvent
}

// NewMockChannel creates an empty MockChannel.
func NewMockChannel() *MockChannel {
	return &MockChannel{
		retained:    make(map[string]model.ChargeCommand),
		cmdSubs:     make(map[string][]func(model.ChargeCommand)),
		FailDevices: make(map[string]bool),
	}
}

// Publish records the command, retains it as latest for the device and
// delivers it to any subscriber. Configured failures simulate transport loss.
func (m *MockChannel) Publish(cmd model.ChargeCommand) error {
	m.mu.Lock()
	if m.FailDevices[cmd.DeviceID] {
		m.mu.Unlock()
		return fmt.Errorf("%w: device %s", ErrPublishFailed, cmd.DeviceID)
	}
	m.Published = append(m.Published, cmd)
	m.retained[cmd.DeviceID] = cmd
	subs := append([]func(model.ChargeCommand){}, m.cmdSubs[cmd.DeviceID]...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(cmd)
	}
	return nil
}

// SubscribeCommands registers the handler and immediately replays the retained
// command, mirroring broker retention for devices that were offline.
func (m *MockChannel) SubscribeCommands(deviceID string, fn func(model.ChargeCommand)) error {
	m.mu.Lock()
	m.cmdSubs[deviceID] = append(m.cmdSubs[deviceID], fn)
	cmd, ok := m.retained[deviceID]
	m.mu.Unlock()
	if ok {
		fn(cmd)
	}
	return nil
}

// Redeliver re-sends the retained command for the device, simulating an
// at-least-once duplicate.
func (m *MockChannel) Redeliver(deviceID string) {
	m.mu.Lock()
	cmd, ok := m.retained[deviceID]
	subs := append([]func(model.ChargeCommand){}, m.cmdSubs[deviceID]...)
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range subs {
		fn(cmd)
	}
}

// PublishStatus records the event and fans it out to status subscribers.
func (m *MockChannel) PublishStatus(ev model.StatusEvent) error {
	m.mu.Lock()
	m.Statuses = append(m.Statuses, ev)
	subs := append([]func(model.StatusEvent){}, m.statusSubs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// SubscribeStatus registers a status handler.
func (m *MockChannel) SubscribeStatus(fn func(model.StatusEvent)) error {
	m.mu.Lock()
	m.statusSubs = append(m.statusSubs, fn)
	m.mu.Unlock()
	return nil
}

// PublishedFor returns every published command addressed to the device.
func (m *MockChannel) PublishedFor(deviceID string) []model.ChargeCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChargeCommand
	for _, c := range m.Published {
		if c.DeviceID == deviceID {
			out = append(out, c)
		}
	}
	return out
}
