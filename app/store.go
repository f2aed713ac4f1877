package app

import (
	"context"
	"errors"
	"time"

	"github.com/ehudso7/GhostTools/app/models"
)

// ErrNotFound is returned by lookups when no matching row exists.
var ErrNotFound = errors.New("not found")

// ErrInsufficientCredits is returned by SpendCredits when the balance is
// lower than the requested amount. The balance is never driven below zero.
var ErrInsufficientCredits = errors.New("insufficient credits")

// BillingTx is the transaction-scoped handle the webhook handlers and the
// tool-usage path compose their writes against. Every method is atomic with
// respect to concurrent transactions on the same user.
type BillingTx interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)

	// AddCredits increments the balance, creating the ledger row if absent.
	AddCredits(ctx context.Context, userID string, amount int) error
	// SetCredits overwrites the balance, used for plan allotments.
	SetCredits(ctx context.Context, userID string, amount int) error
	// SpendCredits decrements only if the balance covers amount.
	SpendCredits(ctx context.Context, userID string, amount int) error
	CreditBalance(ctx context.Context, userID string) (int, error)

	UpsertSubscription(ctx context.Context, sub models.Subscription) error
	SubscriptionByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error)
	// CurrentSubscription returns the newest subscription that is active or
	// canceled with an end date still in the future, or ErrNotFound.
	CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	MarkSubscriptionCanceled(ctx context.Context, stripeID string, endedAt time.Time) error
	MarkSubscriptionPastDue(ctx context.Context, stripeID string) error
	ExtendSubscriptionPeriod(ctx context.Context, stripeID string, endDate time.Time) error

	AppendPayment(ctx context.Context, payment models.Payment) error
	AppendUsage(ctx context.Context, entry models.UsageEntry) error

	// CreateTranscriptionJob inserts a queued job row. Committed together
	// with the credit spend so a failed insert never leaves the user charged.
	CreateTranscriptionJob(ctx context.Context, job models.TranscriptionJob) error
	SetTranscriptionJobStatus(ctx context.Context, jobID, status string) error

	// MarkEventProcessed records a webhook event ID and reports whether this
	// call was the first to record it. Committed together with the handler's
	// effects so a redelivered event is either fully applied or not at all.
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// BillingStore runs a function inside one database transaction.
// A non-nil error from fn rolls every write back.
type BillingStore interface {
	WithTx(ctx context.Context, fn func(tx BillingTx) error) error
}
