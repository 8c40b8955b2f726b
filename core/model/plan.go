package model

import "fmt"

// PricingPlan links a plan code and its required payment amount to an
// authorized charging duration. Plans are static configuration, read-only at
// runtime.
type PricingPlan struct {
	Code            string `json:"code"`
	RequiredAmount  int    `json:"required_amount"`
	DurationMinutes int    `json:"duration_minutes"`
}

// PlanTable is an immutable lookup table over pricing plans. The plan/amount
// mapping is injective: each amount belongs to exactly one plan.
type PlanTable struct {
	byCode   map[string]PricingPlan
	byAmount map[int]PricingPlan
}

// NewPlanTable builds a table, refusing duplicate codes or amounts.
func NewPlanTable(plans []PricingPlan) (PlanTable, error) {
	t := PlanTable{
		byCode:   make(map[string]PricingPlan, len(plans)),
		byAmount: make(map[int]PricingPlan, len(plans)),
	}
	for _, p := range plans {
		if p.Code == "" {
			return PlanTable{}, fmt.Errorf("plan with empty code")
		}
		if p.DurationMinutes <= 0 {
			return PlanTable{}, fmt.Errorf("plan %s: duration must be positive", p.Code)
		}
		if p.RequiredAmount <= 0 {
			return PlanTable{}, fmt.Errorf("plan %s: amount must be positive", p.Code)
		}
		if _, ok := t.byCode[p.Code]; ok {
			return PlanTable{}, fmt.Errorf("duplicate plan code %s", p.Code)
		}
		if prev, ok := t.byAmount[p.RequiredAmount]; ok {
			return PlanTable{}, fmt.Errorf("plans %s and %s share amount %d", prev.Code, p.Code, p.RequiredAmount)
		}
		t.byCode[p.Code] = p
		t.byAmount[p.RequiredAmount] = p
	}
	if len(t.byCode) == 0 {
		return PlanTable{}, fmt.Errorf("no pricing plans configured")
	}
	return t, nil
}

// ByCode looks up a plan by its code.
func (t PlanTable) ByCode(code string) (PricingPlan, bool) {
	p, ok := t.byCode[code]
	return p, ok
}

// ByAmount looks up the plan a paid amount corresponds to.
func (t PlanTable) ByAmount(amount int) (PricingPlan, bool) {
	p, ok := t.byAmount[amount]
	return p, ok
}

// Len returns the number of configured plans.
func (t PlanTable) Len() int { return len(t.byCode) }
