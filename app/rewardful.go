package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ehudso7/GhostTools/app/models"
)

const defaultRewardfulURL = "https://api.rewardful.com"

// ReferralNotifier reports paid conversions to the affiliate tracker.
// Implementations are best-effort: they log failures and never return them.
type ReferralNotifier interface {
	Notify(ctx context.Context, conv models.ReferralConversion)
}

// RewardfulClient posts conversions to the Rewardful API.
type RewardfulClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func NewRewardfulClient(apiKey, baseURL string) *RewardfulClient {
	if baseURL == "" {
		baseURL = defaultRewardfulURL
	}
	return &RewardfulClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type rewardfulConversion struct {
	Referral      string            `json:"referral"`
	CustomerID    string            `json:"customer_id,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Value         float64           `json:"value"`
	Currency      string            `json:"currency"`
	OrderID       string            `json:"order_id,omitempty"`
	FirstOrder    bool              `json:"first_order"`
	Status        string            `json:"status"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Notify fires a conversion at Rewardful. Failures are logged and swallowed;
// affiliate tracking must never fail webhook processing.
func (c *RewardfulClient) Notify(ctx context.Context, conv models.ReferralConversion) {
	if c.apiKey == "" {
		log.Printf("rewardful api key missing; skipping conversion referral=%s", conv.ReferralID)
		return
	}

	paymentType := "one-time"
	if conv.IsSubscription {
		paymentType = "subscription"
	}
	payload := rewardfulConversion{
		Referral:      conv.ReferralID,
		CustomerID:    conv.UserID,
		CustomerEmail: conv.Email,
		Value:         float64(conv.Amount) / 100,
		Currency:      "USD",
		OrderID:       conv.SessionID,
		FirstOrder:    true,
		Status:        "paid",
		Meta:          map[string]string{"type": paymentType},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("rewardful conversion marshal failed referral=%s err=%v", conv.ReferralID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/conversions", bytes.NewReader(body))
	if err != nil {
		log.Printf("rewardful request build failed referral=%s err=%v", conv.ReferralID, err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		log.Printf("rewardful conversion failed referral=%s session=%s err=%v", conv.ReferralID, conv.SessionID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("rewardful conversion rejected referral=%s session=%s status=%d", conv.ReferralID, conv.SessionID, resp.StatusCode)
		return
	}
	log.Printf("rewardful conversion tracked referral=%s session=%s", conv.ReferralID, conv.SessionID)
}
