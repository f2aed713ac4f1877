package app

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/ehudso7/GhostTools/app/config"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/product"
	"github.com/stripe/stripe-go/v79/subscription"
)

// InitStripe wires the Stripe API key from the environment.
func InitStripe() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config for stripe: %v", err)
	}
	stripe.Key = cfg.Stripe.SecretKey
}

// StripeAPI is the narrow slice of the Stripe API the webhook processor
// needs. Kept as an interface so tests can run without the network.
type StripeAPI interface {
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ListLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
}

// liveStripeAPI calls Stripe through the stripe-go package-level clients.
type liveStripeAPI struct{}

func NewStripeAPI() StripeAPI {
	return liveStripeAPI{}
}

func (liveStripeAPI) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return customer.Get(id, params)
}

func (liveStripeAPI) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (liveStripeAPI) ListLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx

	var items []*stripe.LineItem
	iter := session.ListLineItems(params)
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (liveStripeAPI) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	return product.Get(id, params)
}

// ensureStripeCustomer finds or creates a Stripe Customer for the given user.
// It uses users.stripe_customer_id when present, otherwise creates a new
// customer tagged with the user ID, then stores that in the users table.
func ensureStripeCustomer(ctx context.Context, userID, email string) (string, error) {
	if db == nil {
		return "", errors.New("db not initialized")
	}
	if userID == "" {
		return "", errors.New("missing user id")
	}

	var stripeID sql.NullString
	err := db.QueryRowContext(
		ctx,
		`
			SELECT stripe_customer_id
			FROM users
			WHERE id = $1;
		`,
		userID,
	).Scan(&stripeID)
	if err != nil {
		return "", err
	}

	if stripeID.Valid && stripeID.String != "" {
		return stripeID.String, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}

	_, err = db.ExecContext(
		ctx,
		`
			UPDATE users
			SET stripe_customer_id = $1
			WHERE id = $2;
		`,
		cust.ID,
		userID,
	)
	if err != nil {
		return "", err
	}

	return cust.ID, nil
}
