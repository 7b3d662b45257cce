package models

// PlanConfig describes one of the subscription tiers shown on the pricing
// page. The reconciliation core treats plan types as free-text (defaulted to
// "pro"); this catalog exists for the UI and for checkout validation.
type PlanConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Amount      float64  `json:"amount"`
	Currency    string   `json:"currency"`
	Interval    string   `json:"interval"`
	Features    []string `json:"features"`
}

var availablePlans = map[string]PlanConfig{
	"basic": {
		ID:          "basic",
		Name:        "Basic Plan",
		Description: "AI training plans and workout logging",
		Amount:      9.99,
		Currency:    "USD",
		Interval:    "monthly",
		Features: []string{
			"AI-generated training plans",
			"Workout logging",
			"Progress tracking",
		},
	},
	"pro": {
		ID:          "pro",
		Name:        "Pro Plan",
		Description: "Everything in Basic plus AI coaching",
		Amount:      19.99,
		Currency:    "USD",
		Interval:    "monthly",
		Features: []string{
			"Everything in Basic",
			"AI coaching chat",
			"Calendar and community feed",
			"Device sync",
		},
	},
	"elite": {
		ID:          "elite",
		Name:        "Elite Plan",
		Description: "Full platform access with priority support",
		Amount:      39.99,
		Currency:    "USD",
		Interval:    "monthly",
		Features: []string{
			"Everything in Pro",
			"Advanced analytics",
			"Priority support",
		},
	},
}

// AvailablePlans returns the plan catalog keyed by plan type.
func AvailablePlans() map[string]PlanConfig {
	plans := make(map[string]PlanConfig, len(availablePlans))
	for k, v := range availablePlans {
		plans[k] = v
	}
	return plans
}
