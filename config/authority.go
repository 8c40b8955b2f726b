package config

import "fmt"

// AuthorityConfig defines Session Authority timing parameters.
type AuthorityConfig struct {
	// GracePeriodMinutes is added to a session's duration before the sweep
	// may expire it.
	GracePeriodMinutes int `json:"grace_period_minutes"`
	// SweepIntervalSeconds is the period of the expiry sweep.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *AuthorityConfig) SetDefaults() {
	if c.GracePeriodMinutes == 0 {
		c.GracePeriodMinutes = 5
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = 60
	}
}

// Validate checks mandatory fields.
func (c AuthorityConfig) Validate() error {
	if c.GracePeriodMinutes < 0 {
		return fmt.Errorf("grace_period_minutes must be non-negative")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("sweep_interval_seconds must be positive")
	}
	return nil
}
