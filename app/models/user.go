// Package models defines the persistent entities for users, billing, and usage.
package models

import "time"

// Plan identifies a subscription tier. Price IDs that match neither configured
// tier resolve to PlanCustom.
type Plan string

const (
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanCustom  Plan = "custom"
)

// User is the identity anchor all billing state hangs off.
// Rows are created on first authentication and never deleted.
type User struct {
	ID               string    `db:"id"`
	Email            string    `db:"email"`
	Name             string    `db:"name"`
	StripeCustomerID string    `db:"stripe_customer_id"`
	CreatedAt        time.Time `db:"created_at"`
}
