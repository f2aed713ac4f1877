package app

import (
	"github.com/ehudso7/GhostTools/app/models"
)

const (
	// StarterCredits is the monthly allotment for the starter tier.
	StarterCredits = 20
	// UnlimitedCredits stands in for "unlimited" on the pro tier.
	UnlimitedCredits = 9999
)

// One-time tool prices in cents.
const (
	AgentWritePrice int64 = 500
	PodScribePrice  int64 = 700
)

// PlanForPrice maps a Stripe price ID onto an internal plan.
// Anything that is neither the configured starter nor pro price is custom.
func PlanForPrice(priceID, starterPriceID, proPriceID string) models.Plan {
	switch {
	case starterPriceID != "" && priceID == starterPriceID:
		return models.PlanStarter
	case proPriceID != "" && priceID == proPriceID:
		return models.PlanPro
	default:
		return models.PlanCustom
	}
}

// PlanCredits returns the fixed credit allotment a plan grants on activation.
func PlanCredits(plan models.Plan) int {
	switch plan {
	case models.PlanStarter:
		return StarterCredits
	case models.PlanPro:
		return UnlimitedCredits
	default:
		return 0
	}
}

// legacyCreditsForAmount maps historical one-time price points to credits.
// Sessions created before products carried a credits metadata field only
// identify themselves by total amount.
func legacyCreditsForAmount(mode string, amountTotal int64) int {
	if mode != "payment" {
		return 0
	}
	switch amountTotal {
	case AgentWritePrice: // $5.00 AgentWrite pack
		return 5
	case PodScribePrice: // $7.00 PodScribe episode
		return 1
	case 1500: // 20 credits
		return 20
	case 3000: // 50 credits
		return 50
	case 5000: // 100 credits
		return 100
	default:
		return 0
	}
}
