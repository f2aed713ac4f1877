// Package app tests webhook reconciliation against the in-memory store.
package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ehudso7/GhostTools/app/models"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
)

const (
	testStarterPriceID = "price_starter"
	testProPriceID     = "price_pro"
)

type fakeStripeAPI struct {
	customers     map[string]*stripe.Customer
	subscriptions map[string]*stripe.Subscription
	lineItems     map[string][]*stripe.LineItem
	products      map[string]*stripe.Product
}

func newFakeStripeAPI() *fakeStripeAPI {
	return &fakeStripeAPI{
		customers:     make(map[string]*stripe.Customer),
		subscriptions: make(map[string]*stripe.Subscription),
		lineItems:     make(map[string][]*stripe.LineItem),
		products:      make(map[string]*stripe.Product),
	}
}

func (f *fakeStripeAPI) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	if c, ok := f.customers[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no such customer: %s", id)
}

func (f *fakeStripeAPI) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if s, ok := f.subscriptions[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no such subscription: %s", id)
}

func (f *fakeStripeAPI) ListLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	return f.lineItems[sessionID], nil
}

func (f *fakeStripeAPI) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no such product: %s", id)
}

type recordingNotifier struct {
	conversions []models.ReferralConversion
}

func (r *recordingNotifier) Notify(ctx context.Context, conv models.ReferralConversion) {
	r.conversions = append(r.conversions, conv)
}

func newTestProcessor(store *MemoryStore) (*WebhookProcessor, *fakeStripeAPI, *recordingNotifier) {
	api := newFakeStripeAPI()
	referrals := &recordingNotifier{}
	p := NewWebhookProcessor(store, api, referrals, testStarterPriceID, testProPriceID)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p, api, referrals
}

func newEvent(id, eventType, raw string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func subscriptionPayload(subID, customerID, priceID, status string, periodStart, periodEnd int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"customer": {"id": %q},
		"status": %q,
		"items": {"data": [{"price": {"id": %q}}]},
		"current_period_start": %d,
		"current_period_end": %d
	}`, subID, customerID, status, priceID, periodStart, periodEnd)
}

func TestSubscriptionCreatedStoresPlanAndCredits(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "Alice", "cus_alice")
	p, _, _ := newTestProcessor(store)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC).Unix()
	event := newEvent("evt_1", "customer.subscription.created",
		subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", start, end))

	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub, ok := store.Subscriptions["sub_1"]
	if !ok {
		t.Fatalf("expected subscription row for sub_1")
	}
	if sub.UserID != userID || sub.PlanID != models.PlanStarter || sub.Status != "active" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if got := store.Credits[userID]; got != StarterCredits {
		t.Fatalf("expected %d credits, got %d", StarterCredits, got)
	}
}

func TestProSubscriptionGrantsUnlimitedSentinel(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("bob@example.com", "Bob", "cus_bob")
	p, _, _ := newTestProcessor(store)

	event := newEvent("evt_1", "customer.subscription.updated",
		subscriptionPayload("sub_1", "cus_bob", testProPriceID, "active", 1, 2))
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := store.Credits[userID]; got != UnlimitedCredits {
		t.Fatalf("expected %d credits, got %d", UnlimitedCredits, got)
	}
}

func TestIncompleteSubscriptionDoesNotGrantCredits(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("carol@example.com", "", "cus_carol")
	store.Credits[userID] = 3
	p, _, _ := newTestProcessor(store)

	event := newEvent("evt_1", "customer.subscription.created",
		subscriptionPayload("sub_1", "cus_carol", testStarterPriceID, "incomplete", 1, 2))
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, ok := store.Subscriptions["sub_1"]; !ok {
		t.Fatalf("expected subscription row even for incomplete status")
	}
	if got := store.Credits[userID]; got != 3 {
		t.Fatalf("credits should be untouched, got %d", got)
	}
}

func TestSubscriptionUpdatedIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	payload := subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", 1, 2)
	for i, id := range []string{"evt_1", "evt_2"} {
		if err := p.Process(context.Background(), newEvent(id, "customer.subscription.updated", payload)); err != nil {
			t.Fatalf("Process #%d: %v", i+1, err)
		}
	}

	if len(store.Subscriptions) != 1 {
		t.Fatalf("expected a single subscription row, got %d", len(store.Subscriptions))
	}
	if got := store.Credits[userID]; got != StarterCredits {
		t.Fatalf("expected %d credits after redelivery, got %d", StarterCredits, got)
	}
}

func TestDuplicateEventIDIsAcknowledgedWithoutReprocessing(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	payload := fmt.Sprintf(`{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "payment",
		"amount_total": %d
	}`, AgentWritePrice)
	event := newEvent("evt_dup", "checkout.session.completed", payload)

	for i := 0; i < 2; i++ {
		if err := p.Process(context.Background(), event); err != nil {
			t.Fatalf("Process #%d: %v", i+1, err)
		}
	}

	if got := store.Credits[userID]; got != 5 {
		t.Fatalf("expected 5 credits from a single application, got %d", got)
	}
	if len(store.Payments) != 1 {
		t.Fatalf("expected 1 payment row, got %d", len(store.Payments))
	}
}

func TestOneTimeCheckoutLegacyAmounts(t *testing.T) {
	cases := []struct {
		amount  int64
		credits int
	}{
		{AgentWritePrice, 5},
		{PodScribePrice, 1},
		{1500, 20},
		{3000, 50},
		{5000, 100},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("amount_%d", tc.amount), func(t *testing.T) {
			store := NewMemoryStore()
			userID := store.AddUser("alice@example.com", "", "cus_alice")
			p, _, _ := newTestProcessor(store)

			payload := fmt.Sprintf(`{
				"id": "cs_1",
				"customer": {"id": "cus_alice"},
				"mode": "payment",
				"amount_total": %d
			}`, tc.amount)
			if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
				t.Fatalf("Process: %v", err)
			}
			if got := store.Credits[userID]; got != tc.credits {
				t.Fatalf("expected %d credits for amount %d, got %d", tc.credits, tc.amount, got)
			}
		})
	}
}

func TestOneTimeCheckoutMetadataCredits(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, api, _ := newTestProcessor(store)

	api.products["prod_1"] = &stripe.Product{
		ID:       "prod_1",
		Name:     "Bulk Pack",
		Metadata: map[string]string{"credits": "20"},
	}
	api.lineItems["cs_1"] = []*stripe.LineItem{
		{
			Quantity: 2,
			Price:    &stripe.Price{ID: "price_x", Product: &stripe.Product{ID: "prod_1"}},
		},
	}

	payload := `{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "payment",
		"amount_total": 9900
	}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := store.Credits[userID]; got != 40 {
		t.Fatalf("expected 40 credits (20 x 2), got %d", got)
	}
}

func TestOneTimeCheckoutCreditNameFallback(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, api, _ := newTestProcessor(store)

	api.products["prod_1"] = &stripe.Product{ID: "prod_1", Name: "Mega Credit Pack"}
	api.lineItems["cs_1"] = []*stripe.LineItem{
		{
			Quantity:    1,
			AmountTotal: 2500,
			Price:       &stripe.Price{ID: "price_x", Product: &stripe.Product{ID: "prod_1"}},
		},
	}

	payload := `{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "payment",
		"amount_total": 2500
	}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := store.Credits[userID]; got != 25 {
		t.Fatalf("expected 25 credits from the $1=1 fallback, got %d", got)
	}
}

func TestSubscriptionCheckoutEstablishesSubscriptionAndAllotment(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, api, _ := newTestProcessor(store)

	api.subscriptions["sub_1"] = &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: testStarterPriceID}},
			},
		},
		CurrentPeriodStart: 1,
		CurrentPeriodEnd:   2,
	}

	payload := `{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "subscription",
		"subscription": {"id": "sub_1"},
		"amount_total": 2900
	}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub, ok := store.Subscriptions["sub_1"]
	if !ok {
		t.Fatalf("checkout completion must establish the subscription row")
	}
	if sub.UserID != userID || sub.PlanID != models.PlanStarter {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if got := store.Credits[userID]; got != StarterCredits {
		t.Fatalf("expected the plan allotment %d, got %d", StarterCredits, got)
	}
	if len(store.Payments) != 1 {
		t.Fatalf("expected 1 payment row, got %d", len(store.Payments))
	}
	pay := store.Payments[0]
	if pay.Type != models.PaymentTypeSubscription || pay.Status != models.PaymentCompleted {
		t.Fatalf("unexpected payment: %+v", pay)
	}
	if pay.StripeSubscriptionID != "sub_1" || pay.Amount != 2900 {
		t.Fatalf("unexpected payment details: %+v", pay)
	}
}

func TestSubscriptionCheckoutThenUpdateIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, api, _ := newTestProcessor(store)

	api.subscriptions["sub_1"] = &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: testStarterPriceID}},
			},
		},
	}

	checkout := `{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "subscription",
		"subscription": {"id": "sub_1"},
		"amount_total": 2900
	}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", checkout)); err != nil {
		t.Fatalf("checkout Process: %v", err)
	}
	if err := p.Process(context.Background(), newEvent("evt_2", "customer.subscription.updated",
		subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", 1, 2))); err != nil {
		t.Fatalf("update Process: %v", err)
	}

	if len(store.Subscriptions) != 1 {
		t.Fatalf("both paths must land on one row, got %d", len(store.Subscriptions))
	}
	if got := store.Credits[userID]; got != StarterCredits {
		t.Fatalf("allotment must not stack, got %d", got)
	}
}

func TestCheckoutWithoutCustomerDetailsIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	payload := `{"id": "cs_1", "mode": "payment", "amount_total": 500}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
		t.Fatalf("expected acknowledged no-op, got %v", err)
	}
	if len(store.Payments) != 0 {
		t.Fatalf("expected no payments, got %d", len(store.Payments))
	}
}

func TestCheckoutUnknownUserFailsAndRollsBack(t *testing.T) {
	store := NewMemoryStore()
	p, api, _ := newTestProcessor(store)
	api.customers["cus_ghost"] = &stripe.Customer{ID: "cus_ghost", Email: "nobody@example.com"}

	payload := `{
		"id": "cs_1",
		"customer": {"id": "cus_ghost"},
		"mode": "payment",
		"amount_total": 500
	}`
	err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload))
	if err == nil {
		t.Fatalf("expected error for unknown user")
	}
	if len(store.Payments) != 0 {
		t.Fatalf("expected rollback, got %d payments", len(store.Payments))
	}
	// The event must stay retryable: a failed transaction cannot burn the id.
	if store.SeenEvents["evt_1"] {
		t.Fatalf("event id must not be marked processed after a failed transaction")
	}
}

func TestLookupUserFallsBackToStripeCustomerEmail(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "") // no stripe_customer_id on file
	p, api, _ := newTestProcessor(store)
	api.customers["cus_alice"] = &stripe.Customer{ID: "cus_alice", Email: "alice@example.com"}

	payload := fmt.Sprintf(`{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "payment",
		"amount_total": %d
	}`, AgentWritePrice)
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := store.Credits[userID]; got != 5 {
		t.Fatalf("expected credits via customer email fallback, got %d", got)
	}
}

func TestReferralNotifiedAfterCommit(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, _, referrals := newTestProcessor(store)

	payload := fmt.Sprintf(`{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "payment",
		"amount_total": %d,
		"client_reference_id": "ref_123"
	}`, AgentWritePrice)
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(referrals.conversions) != 1 {
		t.Fatalf("expected 1 conversion, got %d", len(referrals.conversions))
	}
	conv := referrals.conversions[0]
	if conv.ReferralID != "ref_123" || conv.SessionID != "cs_1" || conv.UserID != userID {
		t.Fatalf("unexpected conversion: %+v", conv)
	}
	if conv.IsSubscription {
		t.Fatalf("payment mode checkout should not be flagged as subscription")
	}
	if store.Payments[0].ReferralID != "ref_123" {
		t.Fatalf("payment row should carry the referral id")
	}
}

func TestReferralNotSentWhenTransactionFails(t *testing.T) {
	store := NewMemoryStore()
	p, api, referrals := newTestProcessor(store)
	api.customers["cus_ghost"] = &stripe.Customer{ID: "cus_ghost", Email: "nobody@example.com"}

	payload := `{
		"id": "cs_1",
		"customer": {"id": "cus_ghost"},
		"mode": "payment",
		"amount_total": 500,
		"client_reference_id": "ref_123"
	}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.completed", payload)); err == nil {
		t.Fatalf("expected error")
	}
	if len(referrals.conversions) != 0 {
		t.Fatalf("conversion must not fire when the transaction rolled back")
	}
}

func TestAsyncPaymentFailedRecordsFailure(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	payload := `{
		"id": "cs_1",
		"customer": {"id": "cus_alice"},
		"mode": "payment",
		"amount_total": 1500
	}`
	if err := p.Process(context.Background(), newEvent("evt_1", "checkout.session.async_payment_failed", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := store.Credits[userID]; got != 0 {
		t.Fatalf("failed payment must not add credits, got %d", got)
	}
	if len(store.Payments) != 1 || store.Payments[0].Status != models.PaymentFailed {
		t.Fatalf("expected a failed payment row, got %+v", store.Payments)
	}
}

func TestSubscriptionDeletedMarksCanceled(t *testing.T) {
	store := NewMemoryStore()
	store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	if err := p.Process(context.Background(), newEvent("evt_1", "customer.subscription.created",
		subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", 1, 2))); err != nil {
		t.Fatalf("setup Process: %v", err)
	}

	canceledAt := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	payload := fmt.Sprintf(`{"id": "sub_1", "canceled_at": %d}`, canceledAt.Unix())
	if err := p.Process(context.Background(), newEvent("evt_2", "customer.subscription.deleted", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub := store.Subscriptions["sub_1"]
	if sub.Status != "canceled" {
		t.Fatalf("expected canceled, got %s", sub.Status)
	}
	if !sub.EndDate.Equal(canceledAt) {
		t.Fatalf("expected end date %v, got %v", canceledAt, sub.EndDate)
	}
}

func TestSubscriptionDeletedWithoutCanceledAtUsesNow(t *testing.T) {
	store := NewMemoryStore()
	store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	if err := p.Process(context.Background(), newEvent("evt_1", "customer.subscription.created",
		subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", 1, 2))); err != nil {
		t.Fatalf("setup Process: %v", err)
	}
	if err := p.Process(context.Background(), newEvent("evt_2", "customer.subscription.deleted", `{"id": "sub_1"}`)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub := store.Subscriptions["sub_1"]
	if !sub.EndDate.Equal(p.now()) {
		t.Fatalf("expected end date %v, got %v", p.now(), sub.EndDate)
	}
}

func TestInvoicePaymentSucceededExtendsPeriod(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	if err := p.Process(context.Background(), newEvent("evt_1", "customer.subscription.created",
		subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", 1, 2))); err != nil {
		t.Fatalf("setup Process: %v", err)
	}

	periodEnd := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	payload := fmt.Sprintf(`{
		"id": "in_1",
		"subscription": {"id": "sub_1"},
		"amount_paid": 2900,
		"lines": {"data": [{"period": {"start": 1, "end": %d}}]}
	}`, periodEnd.Unix())
	if err := p.Process(context.Background(), newEvent("evt_2", "invoice.payment_succeeded", payload)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub := store.Subscriptions["sub_1"]
	if !sub.EndDate.Equal(periodEnd) {
		t.Fatalf("expected extended end date %v, got %v", periodEnd, sub.EndDate)
	}
	last := store.Payments[len(store.Payments)-1]
	if last.UserID != userID || last.Amount != 2900 || last.Status != models.PaymentCompleted {
		t.Fatalf("unexpected renewal payment: %+v", last)
	}
}

func TestInvoiceForUnknownSubscriptionIsSkipped(t *testing.T) {
	store := NewMemoryStore()
	p, _, _ := newTestProcessor(store)

	payload := `{"id": "in_1", "subscription": {"id": "sub_missing"}, "amount_paid": 2900}`
	if err := p.Process(context.Background(), newEvent("evt_1", "invoice.payment_succeeded", payload)); err != nil {
		t.Fatalf("unknown subscription should be acknowledged, got %v", err)
	}
	if len(store.Payments) != 0 {
		t.Fatalf("expected no payments, got %d", len(store.Payments))
	}
}

func TestInvoicePaymentFailedAttemptThreshold(t *testing.T) {
	for _, tc := range []struct {
		attempts   int64
		wantStatus string
	}{
		{1, "active"},
		{3, "active"},
		{4, "past_due"},
	} {
		t.Run(fmt.Sprintf("attempts_%d", tc.attempts), func(t *testing.T) {
			store := NewMemoryStore()
			store.AddUser("alice@example.com", "", "cus_alice")
			p, _, _ := newTestProcessor(store)

			if err := p.Process(context.Background(), newEvent("evt_1", "customer.subscription.created",
				subscriptionPayload("sub_1", "cus_alice", testStarterPriceID, "active", 1, 2))); err != nil {
				t.Fatalf("setup Process: %v", err)
			}

			payload := fmt.Sprintf(`{
				"id": "in_1",
				"subscription": {"id": "sub_1"},
				"amount_due": 2900,
				"attempt_count": %d
			}`, tc.attempts)
			if err := p.Process(context.Background(), newEvent("evt_2", "invoice.payment_failed", payload)); err != nil {
				t.Fatalf("Process: %v", err)
			}

			if got := store.Subscriptions["sub_1"].Status; got != tc.wantStatus {
				t.Fatalf("expected status %s after %d attempts, got %s", tc.wantStatus, tc.attempts, got)
			}
			last := store.Payments[len(store.Payments)-1]
			if last.Status != models.PaymentFailed || last.Amount != 2900 {
				t.Fatalf("unexpected failure payment: %+v", last)
			}
		})
	}
}

func TestAdministrativeEventsWriteNothing(t *testing.T) {
	store := NewMemoryStore()
	store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)

	for _, eventType := range []string{
		"payment_method.attached",
		"payment_intent.created",
		"setup_intent.created",
		"account.updated",
		"some.future.event",
	} {
		if err := p.Process(context.Background(), newEvent("evt_1", eventType, `{}`)); err != nil {
			t.Fatalf("event %s should be acknowledged, got %v", eventType, err)
		}
	}
	if len(store.Payments) != 0 || len(store.Usage) != 0 || len(store.SeenEvents) != 0 {
		t.Fatalf("ignored events must not touch the store")
	}
}

// signWebhookBody produces a Stripe-Signature header for body.
func signWebhookBody(t *testing.T, secret string, body []byte, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookServer(p *WebhookProcessor, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/stripe/webhook", StripeWebhook(p, secret))
	return router
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", signature)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	store := NewMemoryStore()
	p, _, _ := newTestProcessor(store)
	router := newWebhookServer(p, "whsec_test")

	body := []byte(`{"id": "evt_1", "type": "payment_intent.created", "data": {"object": {}}}`)
	resp := postWebhook(router, body, signWebhookBody(t, "whsec_wrong", body, time.Now()))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Invalid signature") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestStripeWebhookAcceptsValidSignature(t *testing.T) {
	store := NewMemoryStore()
	userID := store.AddUser("alice@example.com", "", "cus_alice")
	p, _, _ := newTestProcessor(store)
	router := newWebhookServer(p, "whsec_test")

	body := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_alice",
			"mode": "payment",
			"amount_total": %d
		}}
	}`, AgentWritePrice))
	resp := postWebhook(router, body, signWebhookBody(t, "whsec_test", body, time.Now()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil || !out.Success {
		t.Fatalf("expected success response, got %s", resp.Body.String())
	}
	if got := store.Credits[userID]; got != 5 {
		t.Fatalf("expected 5 credits, got %d", got)
	}
}

func TestEventWithoutDataObjectIsAcknowledged(t *testing.T) {
	store := NewMemoryStore()
	store.AddUser("alice@example.com", "Alice", "cus_alice")
	p, _, _ := newTestProcessor(store)

	event := stripe.Event{ID: "evt_nodata", Type: "checkout.session.completed"}
	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(store.Payments) != 0 || store.SeenEvents["evt_nodata"] {
		t.Fatalf("expected no writes for event without data object")
	}
}

func TestStripeWebhookEventWithoutDataReturns200(t *testing.T) {
	store := NewMemoryStore()
	p, _, _ := newTestProcessor(store)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/api/stripe/webhook", StripeWebhook(p, "whsec_test"))

	body := []byte(`{"id": "evt_1", "type": "checkout.session.completed"}`)
	resp := postWebhook(router, body, signWebhookBody(t, "whsec_test", body, time.Now()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestStripeWebhookHandlerFailureStillReturns200(t *testing.T) {
	store := NewMemoryStore() // no users: lookup will fail
	p, api, _ := newTestProcessor(store)
	api.customers["cus_ghost"] = &stripe.Customer{ID: "cus_ghost", Email: "nobody@example.com"}
	router := newWebhookServer(p, "whsec_test")

	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_ghost",
			"mode": "payment",
			"amount_total": 500
		}}
	}`)
	resp := postWebhook(router, body, signWebhookBody(t, "whsec_test", body, time.Now()))

	if resp.Code != http.StatusOK {
		t.Fatalf("handler errors must still return 200, got %d", resp.Code)
	}
	var out struct {
		Success bool `json:"success"`
		Handled bool `json:"handled"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body: %s", resp.Body.String())
	}
	if out.Success || out.Handled {
		t.Fatalf("expected success=false handled=false, got %s", resp.Body.String())
	}
}

func TestStripeWebhookMissingSecret(t *testing.T) {
	store := NewMemoryStore()
	p, _, _ := newTestProcessor(store)
	router := newWebhookServer(p, "")

	body := []byte(`{}`)
	resp := postWebhook(router, body, "t=1,v1=abc")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when webhook secret is missing, got %d", resp.Code)
	}
}
