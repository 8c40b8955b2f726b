package session

import "errors"

// ErrUnsupportedAmount is returned when a payment confirmation carries an
// amount that does not match any configured plan. No session is created.
var ErrUnsupportedAmount = errors.New("unsupported amount")

// ErrUnsupportedPlan is returned for a session request naming an unknown plan.
var ErrUnsupportedPlan = errors.New("unsupported plan")
