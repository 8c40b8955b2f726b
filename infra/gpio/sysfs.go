// Package gpio drives the bay relay through the Linux sysfs GPIO interface.
// Most relay boards are wired active-low, so the inactive level is
// configurable.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/voltbay/powerbank/infra/logger"
)

// Config selects the relay pin and its polarity.
type Config struct {
	// Driver selects "sysfs" or "nop" (no hardware, log only).
	Driver string `json:"driver"`
	Pin    int    `json:"pin"`
	// ActiveHigh marks the relay as energized on the high level. Defaults to
	// false, the common wiring for relay boards.
	ActiveHigh bool `json:"active_high"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sysfs"
	}
	if c.Pin == 0 {
		c.Pin = 17
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Driver != "sysfs" && c.Driver != "nop" {
		return fmt.Errorf("unknown gpio driver %q", c.Driver)
	}
	if c.Pin < 0 {
		return fmt.Errorf("pin must be non-negative")
	}
	return nil
}

// SysfsDriver implements relay.Driver over /sys/class/gpio.
type SysfsDriver struct {
	pin        int
	activeHigh bool
	base       string
	log        logger.Logger
}

// NewSysfsDriver exports the pin, sets it as an output and forces the
// inactive level.
func NewSysfsDriver(cfg Config) (*SysfsDriver, error) {
	return newSysfsDriver(cfg, "/sys/class/gpio")
}

func newSysfsDriver(cfg Config, base string) (*SysfsDriver, error) {
	d := &SysfsDriver{
		pin:        cfg.Pin,
		activeHigh: cfg.ActiveHigh,
		base:       base,
		log:        logger.New("gpio"),
	}
	pinDir := filepath.Join(base, fmt.Sprintf("gpio%d", d.pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(base, "export"), []byte(strconv.Itoa(d.pin)), 0644); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", d.pin, err)
		}
	}
	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0644); err != nil {
		return nil, fmt.Errorf("set gpio %d direction: %w", d.pin, err)
	}
	if err := d.Off(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *SysfsDriver) write(level byte) error {
	path := filepath.Join(d.base, fmt.Sprintf("gpio%d", d.pin), "value")
	if err := os.WriteFile(path, []byte{level}, 0644); err != nil {
		return fmt.Errorf("write gpio %d: %w", d.pin, err)
	}
	return nil
}

func (d *SysfsDriver) activeLevel() byte {
	if d.activeHigh {
		return '1'
	}
	return '0'
}

func (d *SysfsDriver) inactiveLevel() byte {
	if d.activeHigh {
		return '0'
	}
	return '1'
}

// On drives the output to the active level.
func (d *SysfsDriver) On() error {
	if err := d.write(d.activeLevel()); err != nil {
		return err
	}
	d.log.Infof("relay on (pin %d)", d.pin)
	return nil
}

// Off drives the output to the inactive level.
func (d *SysfsDriver) Off() error {
	if err := d.write(d.inactiveLevel()); err != nil {
		return err
	}
	d.log.Infof("relay off (pin %d)", d.pin)
	return nil
}

// Close forces the output off.
func (d *SysfsDriver) Close() error { return d.Off() }
