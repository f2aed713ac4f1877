// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"context"
	"time"

	"github.com/ehudso7/GhostTools/app/config"
	"github.com/ehudso7/GhostTools/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter() (*gin.Engine, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	store := NewPostgresStore(db)
	referrals := NewRewardfulClient(cfg.Rewardful.APIKey, cfg.Rewardful.BaseURL)
	processor := NewWebhookProcessor(store, NewStripeAPI(), referrals,
		cfg.Stripe.StarterPriceID, cfg.Stripe.ProPriceID)
	ai := NewOpenAIClient(cfg.OpenAI)

	// Built once; per-request construction would redo AWS config resolution
	// on every podscribe call.
	var queue TranscriptionQueue
	if cfg.QueueURL != "" {
		sqsQueue, err := NewSQSTranscriptionQueue(context.Background(), cfg.QueueURL)
		if err != nil {
			return nil, err
		}
		queue = sqsQueue
	}

	router.GET("/health", Health)
	router.POST("/api/stripe/webhook", StripeWebhook(processor, cfg.Stripe.WebhookSecret))

	verifier, err := auth.NewVerifierFromEnv()
	if err != nil && !auth.AuthDisabled() {
		return nil, err
	}

	protected := router.Group("/")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) error {
			return UpsertUserFromClaims(c.Request.Context(), claims)
		},
	}))
	protected.GET("/me", Me(store))
	protected.GET("/api/user/history", GetUsageHistory)
	protected.GET("/jobs/:jobid", GetJobStatus)
	protected.POST("/api/billing/subscribe", CreateSubscriptionCheckout)
	protected.POST("/api/billing/credits-checkout", CreateCreditsCheckout)
	protected.POST("/api/billing/checkout/agentwrite", CreateAgentWriteCheckout)
	protected.POST("/api/billing/checkout/podscribe", CreatePodScribeCheckout)
	protected.POST("/api/billing/portal-session", CreatePortalSession)
	protected.POST("/api/tools/agentwrite", AgentWrite(store, ai))
	protected.POST("/api/tools/podscribe", PodScribe(store, queue))

	return router, nil
}
