// Package audit persists the session lifecycle for the external audit
// collaborator. Replaying the log after a restart also recovers the
// authority's dedup seen-set, closing the redelivery window that exists
// without persistence.
package audit

import (
	"context"
	"time"

	"github.com/voltbay/powerbank/core/model"
)

// Record captures one session state change.
type Record struct {
	Timestamp time.Time           `json:"timestamp"`
	Session   model.ChargeSession `json:"session"`
}

// Store persists Records and supports replay on startup.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Replay returns all records in append order.
	Replay(ctx context.Context) ([]Record, error)
	Close() error
}
