package config

import (
	"fmt"

	"github.com/voltbay/powerbank/core/model"
)

// PlanConfig defines one purchasable charging pass.
type PlanConfig struct {
	// Amount is the required payment in major currency units.
	Amount int `json:"amount"`
	// Duration is the authorized charging time in minutes.
	Duration int `json:"duration"`
}

// PricingConfig is the static plan table. It is loaded once and immutable at
// runtime.
type PricingConfig struct {
	Currency string                `json:"currency"`
	Plans    map[string]PlanConfig `json:"plans"`
}

// SetDefaults applies sane defaults.
func (c *PricingConfig) SetDefaults() {
	if c.Currency == "" {
		c.Currency = "INR"
	}
}

// Validate checks that the table builds, which enforces the injective
// plan/amount mapping.
func (c PricingConfig) Validate() error {
	if len(c.Plans) == 0 {
		return fmt.Errorf("no pricing plans configured")
	}
	_, err := c.Table()
	return err
}

// Table builds the immutable lookup table handed to the Session Authority.
func (c PricingConfig) Table() (model.PlanTable, error) {
	plans := make([]model.PricingPlan, 0, len(c.Plans))
	for code, p := range c.Plans {
		plans = append(plans, model.PricingPlan{
			Code:            code,
			RequiredAmount:  p.Amount,
			DurationMinutes: p.Duration,
		})
	}
	return model.NewPlanTable(plans)
}
