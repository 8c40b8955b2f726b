package relay

import (
	"sync"
	"time"
)

// Driver abstracts the physical relay output. Implementations must make Off
// safe to call at any time, including when the output is already off.
type Driver interface {
	On() error
	Off() error
}

// NopDriver is a Driver without hardware, for bench setups and dry runs.
type NopDriver struct{}

func (NopDriver) On() error  { return nil }
func (NopDriver) Off() error { return nil }

// Transition records one output level change with its instant.
type Transition struct {
	On bool
	At time.Time
}

// MockDriver records output transitions for tests.
type MockDriver struct {
	mu          sync.Mutex
	on          bool
	Transitions []Transition
	FailOn      bool
	FailOff     bool
}

func (d *MockDriver) On() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOn {
		return errFailOn
	}
	d.on = true
	d.Transitions = append(d.Transitions, Transition{On: true, At: time.Now()})
	return nil
}

func (d *MockDriver) Off() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOff {
		return errFailOff
	}
	d.on = false
	d.Transitions = append(d.Transitions, Transition{On: false, At: time.Now()})
	return nil
}

// Energized reports the current output level.
func (d *MockDriver) Energized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

// OnCount returns the number of on transitions recorded.
func (d *MockDriver) OnCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.Transitions {
		if t.On {
			n++
		}
	}
	return n
}
