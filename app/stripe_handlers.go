package app

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ehudso7/GhostTools/app/config"
	"github.com/ehudso7/GhostTools/app/models"
	"github.com/ehudso7/GhostTools/auth"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
)

// creditPackages maps purchasable credit pack sizes to their price in cents.
var creditPackages = map[int]int64{
	20:  1500,
	50:  3000,
	100: 5000,
}

type subscribeRequest struct {
	PlanID   models.Plan `json:"planId" binding:"required"`
	Referral string      `json:"referral"`
}

// CreateSubscriptionCheckout starts a Stripe Checkout Session for a
// starter or pro subscription.
func CreateSubscriptionCheckout(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("stripe checkout config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	priceLookup := map[models.Plan]string{
		models.PlanStarter: cfg.Stripe.StarterPriceID,
		models.PlanPro:     cfg.Stripe.ProPriceID,
	}
	priceID := priceLookup[req.PlanID]
	if priceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan"})
		return
	}
	frontendURL := strings.TrimRight(cfg.Stripe.FrontendURL, "/")
	if frontendURL == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	user, err := currentUser(c.Request.Context(), claims)
	if err != nil {
		log.Printf("subscribe user lookup failed email=%s err=%v", claims.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	stripeCustomerID, err := ensureStripeCustomer(c.Request.Context(), user.ID, user.Email)
	if err != nil {
		log.Printf("ensureStripeCustomer failed for user=%s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(stripeCustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/dashboard?subscribed=true"),
		CancelURL:  stripe.String(frontendURL + "/pricing?canceled=true"),
	}
	if req.Referral != "" {
		params.ClientReferenceID = stripe.String(req.Referral)
	}

	sess, err := session.New(params)
	if err != nil {
		log.Printf("stripe checkout session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

type creditsCheckoutRequest struct {
	Package  int    `json:"package" binding:"required"`
	Referral string `json:"referral"`
}

// CreateCreditsCheckout starts a one-time Checkout Session for a credit
// pack. The credits metadata on the product is what the webhook reads back
// when allocating credits.
func CreateCreditsCheckout(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req creditsCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	price, ok := creditPackages[req.Package]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit package"})
		return
	}

	name := fmt.Sprintf("%d GhostTools Credits", req.Package)
	createToolCheckout(c, claims, name, price, map[string]string{
		"credits": fmt.Sprintf("%d", req.Package),
	}, req.Referral)
}

type toolCheckoutRequest struct {
	Referral string `json:"referral"`
}

// CreateAgentWriteCheckout sells the $5 AgentWrite description pack.
func CreateAgentWriteCheckout(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	var req toolCheckoutRequest
	_ = c.ShouldBindJSON(&req)

	createToolCheckout(c, claims, "AgentWrite Description Pack", AgentWritePrice, map[string]string{
		"product": "agent_write",
		"credits": "5",
	}, req.Referral)
}

// CreatePodScribeCheckout sells a $7 PodScribe episode transcription.
func CreatePodScribeCheckout(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	var req toolCheckoutRequest
	_ = c.ShouldBindJSON(&req)

	createToolCheckout(c, claims, "PodScribe Episode", PodScribePrice, map[string]string{
		"product": "pod_scribe",
		"credits": "1",
	}, req.Referral)
}

func createToolCheckout(c *gin.Context, claims *auth.Claims, productName string, amount int64, metadata map[string]string, referral string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("stripe checkout config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	frontendURL := strings.TrimRight(cfg.Stripe.FrontendURL, "/")
	if frontendURL == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	user, err := currentUser(c.Request.Context(), claims)
	if err != nil {
		log.Printf("checkout user lookup failed email=%s err=%v", claims.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	stripeCustomerID, err := ensureStripeCustomer(c.Request.Context(), user.ID, user.Email)
	if err != nil {
		log.Printf("ensureStripeCustomer failed for user=%s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(stripeCustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:     stripe.String(productName),
						Metadata: metadata,
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/dashboard?purchase=success"),
		CancelURL:  stripe.String(frontendURL + "/pricing?canceled=true"),
	}
	if referral != "" {
		params.ClientReferenceID = stripe.String(referral)
	}

	sess, err := session.New(params)
	if err != nil {
		log.Printf("stripe checkout session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// CreatePortalSession creates a Stripe Customer Portal session for the
// authenticated user.
func CreatePortalSession(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db not initialized"})
		return
	}

	user, err := currentUser(c.Request.Context(), claims)
	if err != nil {
		log.Printf("portal user lookup failed email=%s err=%v", claims.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load customer"})
		return
	}
	if user.StripeCustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stripe customer missing for user"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("portal config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	frontendURL := strings.TrimRight(cfg.Stripe.FrontendURL, "/")
	if frontendURL == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(frontendURL + "/account"),
	}

	sess, err := portal.New(params)
	if err != nil {
		log.Printf("stripe portal session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}
