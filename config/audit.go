package config

import "fmt"

// AuditConfig defines settings for the session audit log. When enabled, the
// log doubles as the dedup seen-set recovered after a restart.
type AuditConfig struct {
	Enabled bool `json:"enabled"`
	// Path is the location of the JSONL file.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *AuditConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "sessions.jsonl"
	}
}

// Validate checks mandatory fields.
func (c AuditConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("path is required when audit is enabled")
	}
	return nil
}
