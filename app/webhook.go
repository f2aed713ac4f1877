package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ehudso7/GhostTools/app/models"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// WebhookProcessor reconciles Stripe webhook events against local billing
// state. All writes for one event happen inside a single store transaction;
// the referral notification fires only after that transaction commits.
type WebhookProcessor struct {
	store          BillingStore
	api            StripeAPI
	referrals      ReferralNotifier
	starterPriceID string
	proPriceID     string
	now            func() time.Time
}

func NewWebhookProcessor(store BillingStore, api StripeAPI, referrals ReferralNotifier, starterPriceID, proPriceID string) *WebhookProcessor {
	return &WebhookProcessor{
		store:          store,
		api:            api,
		referrals:      referrals,
		starterPriceID: starterPriceID,
		proPriceID:     proPriceID,
		now:            time.Now,
	}
}

// eventHandler applies one event type inside tx. The returned func, if any,
// runs after the transaction commits.
type eventHandler func(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error)

// Process dispatches a verified event to its handler. Unrecognized and
// explicitly ignored event types are acknowledged as no-ops. A duplicate
// delivery of an already-processed event ID is acknowledged without
// reprocessing.
func (p *WebhookProcessor) Process(ctx context.Context, event stripe.Event) error {
	var handler eventHandler

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		handler = p.handleCheckoutCompleted
	case "checkout.session.async_payment_failed":
		handler = p.handleAsyncPaymentFailed
	case "customer.subscription.created", "customer.subscription.updated":
		handler = p.handleSubscriptionUpdated
	case "customer.subscription.deleted":
		handler = p.handleSubscriptionDeleted
	case "invoice.payment_succeeded":
		handler = p.handleInvoicePaymentSucceeded
	case "invoice.payment_failed":
		handler = p.handleInvoicePaymentFailed
	case "account.updated", "setup_intent.created", "payment_intent.created", "payment_method.attached":
		log.Printf("stripe webhook ignoring administrative event type=%s", event.Type)
		return nil
	default:
		log.Printf("stripe webhook unhandled event type=%s", event.Type)
		return nil
	}

	if event.Data == nil {
		log.Printf("stripe webhook event has no data object event=%s type=%s", event.ID, event.Type)
		return nil
	}

	var followUp func(context.Context)
	err := p.store.WithTx(ctx, func(tx BillingTx) error {
		if event.ID != "" {
			first, err := tx.MarkEventProcessed(ctx, event.ID)
			if err != nil {
				return err
			}
			if !first {
				log.Printf("stripe webhook duplicate delivery event=%s type=%s", event.ID, event.Type)
				return nil
			}
		}
		fu, err := handler(ctx, tx, event.Data.Raw)
		followUp = fu
		return err
	})
	if err != nil {
		return err
	}
	if followUp != nil {
		followUp(ctx)
	}
	return nil
}

func (p *WebhookProcessor) resolvePlan(priceID string) models.Plan {
	return PlanForPrice(priceID, p.starterPriceID, p.proPriceID)
}

// lookupUser resolves the session's user by customer email when present,
// otherwise via the Stripe customer: first the local stripe_customer_id
// column, then the customer's email fetched from the API.
func (p *WebhookProcessor) lookupUser(ctx context.Context, tx BillingTx, customerID, customerEmail string) (*models.User, error) {
	if customerEmail != "" {
		return tx.UserByEmail(ctx, customerEmail)
	}

	user, err := tx.UserByStripeCustomer(ctx, customerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cust, err := p.api.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if cust.Deleted {
		return nil, fmt.Errorf("stripe customer has been deleted: %s", customerID)
	}
	return tx.UserByEmail(ctx, cust.Email)
}

func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("invalid checkout session payload: %w", err)
	}

	// No way to attribute the session; acknowledge and move on.
	if sess.Customer == nil && sess.CustomerEmail == "" {
		log.Printf("stripe checkout session missing customer details session=%s", sess.ID)
		return nil, nil
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	user, err := p.lookupUser(ctx, tx, customerID, sess.CustomerEmail)
	if err != nil {
		return nil, fmt.Errorf("user not found for checkout session %s: %w", sess.ID, err)
	}

	isSubscription := sess.Subscription != nil
	amount := sess.AmountTotal
	referralID := sess.ClientReferenceID

	payment := models.Payment{
		UserID:          user.ID,
		StripeSessionID: sess.ID,
		Amount:          amount,
		Status:          models.PaymentCompleted,
		Type:            models.PaymentTypeOneTime,
		ReferralID:      referralID,
	}
	if isSubscription {
		payment.StripeSubscriptionID = sess.Subscription.ID
		payment.Type = models.PaymentTypeSubscription
	}
	if err := tx.AppendPayment(ctx, payment); err != nil {
		return nil, err
	}

	if isSubscription {
		// Establish the subscription row here too: the session only carries
		// the subscription id, and customer.subscription.created may not have
		// arrived yet. The upsert keeps both paths idempotent.
		full, err := p.api.GetSubscription(ctx, sess.Subscription.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve subscription %s: %w", sess.Subscription.ID, err)
		}
		if err := p.applySubscription(ctx, tx, user.ID, full); err != nil {
			return nil, err
		}
	} else if amount > 0 {
		if err := p.allocateOneTimeCredits(ctx, tx, &sess, user); err != nil {
			return nil, err
		}
	}

	if referralID == "" {
		return nil, nil
	}
	conv := models.ReferralConversion{
		ReferralID:     referralID,
		SessionID:      sess.ID,
		Amount:         amount,
		UserID:         user.ID,
		Email:          user.Email,
		IsSubscription: isSubscription,
	}
	return func(ctx context.Context) {
		p.referrals.Notify(ctx, conv)
	}, nil
}

func (p *WebhookProcessor) handleAsyncPaymentFailed(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("invalid checkout session payload: %w", err)
	}

	if sess.Customer == nil && sess.CustomerEmail == "" {
		log.Printf("stripe checkout session missing customer details session=%s", sess.ID)
		return nil, nil
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	user, err := p.lookupUser(ctx, tx, customerID, sess.CustomerEmail)
	if err != nil {
		return nil, fmt.Errorf("user not found for checkout session %s: %w", sess.ID, err)
	}

	payment := models.Payment{
		UserID:          user.ID,
		StripeSessionID: sess.ID,
		Amount:          sess.AmountTotal,
		Status:          models.PaymentFailed,
		Type:            models.PaymentTypeOneTime,
	}
	if sess.Subscription != nil {
		payment.StripeSubscriptionID = sess.Subscription.ID
	}
	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		payment.Type = models.PaymentTypeSubscription
	}
	return nil, tx.AppendPayment(ctx, payment)
}

func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription payload: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, errors.New("subscription missing customer id")
	}

	user, err := p.lookupUser(ctx, tx, sub.Customer.ID, "")
	if err != nil {
		return nil, fmt.Errorf("user not found for customer %s: %w", sub.Customer.ID, err)
	}
	return nil, p.applySubscription(ctx, tx, user.ID, &sub)
}

// applySubscription upserts the local subscription row from the Stripe
// object and, once the subscription is actually active, overwrites the
// user's balance with the plan allotment.
func (p *WebhookProcessor) applySubscription(ctx context.Context, tx BillingTx, userID string, sub *stripe.Subscription) error {
	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	if priceID == "" {
		return errors.New("price id not found in subscription")
	}
	planID := p.resolvePlan(priceID)

	err := tx.UpsertSubscription(ctx, models.Subscription{
		UserID:    userID,
		StripeID:  sub.ID,
		Status:    string(sub.Status),
		PlanID:    planID,
		StartDate: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		EndDate:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	})
	if err != nil {
		return err
	}

	if sub.Status == stripe.SubscriptionStatusActive {
		if credits := PlanCredits(planID); credits > 0 {
			return tx.SetCredits(ctx, userID, credits)
		}
	}
	return nil
}

func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription payload: %w", err)
	}

	endedAt := p.now().UTC()
	if sub.CanceledAt > 0 {
		endedAt = time.Unix(sub.CanceledAt, 0).UTC()
	}
	return nil, tx.MarkSubscriptionCanceled(ctx, sub.ID, endedAt)
}

func (p *WebhookProcessor) handleInvoicePaymentSucceeded(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("invalid invoice payload: %w", err)
	}
	if inv.Subscription == nil {
		return nil, nil
	}

	sub, err := tx.SubscriptionByStripeID(ctx, inv.Subscription.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Events can arrive before the subscription row exists.
			log.Printf("stripe invoice references unknown subscription=%s", inv.Subscription.ID)
			return nil, nil
		}
		return nil, err
	}

	err = tx.AppendPayment(ctx, models.Payment{
		UserID:               sub.UserID,
		StripeSubscriptionID: inv.Subscription.ID,
		Amount:               inv.AmountPaid,
		Status:               models.PaymentCompleted,
		Type:                 models.PaymentTypeSubscription,
	})
	if err != nil {
		return nil, err
	}

	// Renewal extends the validity window; it does not re-run credit
	// allocation, that stays tied to customer.subscription.updated.
	if inv.Lines != nil && len(inv.Lines.Data) > 0 {
		if period := inv.Lines.Data[0].Period; period != nil && period.End > 0 {
			return nil, tx.ExtendSubscriptionPeriod(ctx, sub.StripeID, time.Unix(period.End, 0).UTC())
		}
	}
	return nil, nil
}

func (p *WebhookProcessor) handleInvoicePaymentFailed(ctx context.Context, tx BillingTx, raw json.RawMessage) (func(context.Context), error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("invalid invoice payload: %w", err)
	}
	if inv.Subscription == nil {
		return nil, nil
	}

	sub, err := tx.SubscriptionByStripeID(ctx, inv.Subscription.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("stripe invoice references unknown subscription=%s", inv.Subscription.ID)
			return nil, nil
		}
		return nil, err
	}

	err = tx.AppendPayment(ctx, models.Payment{
		UserID:               sub.UserID,
		StripeSubscriptionID: inv.Subscription.ID,
		Amount:               inv.AmountDue,
		Status:               models.PaymentFailed,
		Type:                 models.PaymentTypeSubscription,
	})
	if err != nil {
		return nil, err
	}

	// A single failed invoice keeps the status as reported by Stripe; after
	// more than 3 attempts the subscription is marked past_due.
	if inv.AttemptCount > 3 {
		return nil, tx.MarkSubscriptionPastDue(ctx, sub.StripeID)
	}
	return nil, nil
}

// allocateOneTimeCredits figures out how many credits a one-time checkout
// grants. Legacy sessions are identified by exact total amount; newer ones
// carry a credits metadata field on the product, with a $1 = 1 credit
// fallback for products named like credit packs.
func (p *WebhookProcessor) allocateOneTimeCredits(ctx context.Context, tx BillingTx, sess *stripe.CheckoutSession, user *models.User) error {
	creditsToAdd := legacyCreditsForAmount(string(sess.Mode), sess.AmountTotal)

	if creditsToAdd == 0 {
		items, err := p.api.ListLineItems(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to list line items for session %s: %w", sess.ID, err)
		}
		for _, item := range items {
			if item.Price == nil || item.Price.Product == nil {
				continue
			}
			prod, err := p.api.GetProduct(ctx, item.Price.Product.ID)
			if err != nil {
				return fmt.Errorf("failed to retrieve product %s: %w", item.Price.Product.ID, err)
			}

			quantity := item.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			if meta := prod.Metadata["credits"]; meta != "" {
				itemCredits, err := strconv.Atoi(meta)
				if err != nil {
					log.Printf("stripe product %s has malformed credits metadata %q", prod.ID, meta)
					continue
				}
				creditsToAdd += itemCredits * int(quantity)
			} else if strings.Contains(strings.ToLower(prod.Name), "credit") {
				// Last-resort heuristic: $1 of the line total = 1 credit.
				creditsToAdd += int(item.AmountTotal / 100)
			}
		}
	}

	if creditsToAdd <= 0 {
		return nil
	}
	if err := tx.AddCredits(ctx, user.ID, creditsToAdd); err != nil {
		return err
	}
	log.Printf("added %d credits to user=%s session=%s", creditsToAdd, user.ID, sess.ID)
	return nil
}

// StripeWebhook returns the gin handler for the Stripe webhook endpoint.
// Signature verification is the only authentication; a handler failure is
// still acknowledged with 200 so Stripe does not retry-storm us.
func StripeWebhook(p *WebhookProcessor, endpointSecret string) gin.HandlerFunc {
	const maxBodyBytes = int64(65536)

	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			log.Printf("stripe webhook read failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if endpointSecret == "" {
			log.Printf("stripe webhook secret missing")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
			return
		}

		sigHeader := c.GetHeader("Stripe-Signature")
		event, err := webhook.ConstructEventWithOptions(
			body,
			sigHeader,
			endpointSecret,
			webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			},
		)
		if err != nil {
			log.Printf("stripe webhook signature failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
			return
		}

		log.Printf("processing stripe webhook event=%s type=%s", event.ID, event.Type)

		if err := p.Process(c.Request.Context(), event); err != nil {
			log.Printf("stripe webhook processing failed event=%s type=%s err=%v", event.ID, event.Type, err)
			c.JSON(http.StatusOK, gin.H{
				"success": false,
				"error":   err.Error(),
				"handled": false,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
