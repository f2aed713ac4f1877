package models

import "time"

// Subscription mirrors one Stripe subscription object locally,
// keyed by the Stripe subscription ID (at most one row per ID).
type Subscription struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	StripeID  string    `db:"stripe_id"`
	Status    string    `db:"status"` // Stripe-reported status, passed through
	PlanID    Plan      `db:"plan_id"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Current reports whether the subscription grants access at time now:
// active, or canceled with an end date still in the future.
func (s *Subscription) Current(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status == "active" {
		return true
	}
	return s.Status == "canceled" && s.EndDate.After(now)
}

const (
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"

	PaymentTypeSubscription = "subscription"
	PaymentTypeOneTime      = "one-time"
)

// Payment is an append-only record of a payment attempt.
// Amounts are in minor currency units (cents).
type Payment struct {
	UserID               string    `db:"user_id"`
	StripeSessionID      string    `db:"stripe_session_id"`
	StripeSubscriptionID string    `db:"stripe_subscription_id"`
	Amount               int64     `db:"amount"`
	Status               string    `db:"status"`
	Type                 string    `db:"type"`
	ReferralID           string    `db:"referral_id"`
	CreatedAt            time.Time `db:"created_at"`
}

// UsageEntry records one paid tool invocation and the credits it consumed.
type UsageEntry struct {
	UserID      string    `db:"user_id" json:"-"`
	Tool        string    `db:"tool" json:"tool"`
	CreditsUsed int       `db:"credits_used" json:"creditsUsed"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// ReferralConversion carries the fields the affiliate tracker needs to
// attribute a paid checkout to a referring partner.
type ReferralConversion struct {
	ReferralID     string
	SessionID      string
	Amount         int64 // cents
	UserID         string
	Email          string
	IsSubscription bool
}
