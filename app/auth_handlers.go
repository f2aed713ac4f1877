// Package app provides public health and authenticated identity endpoints.
package app

import (
	"errors"
	"log"
	"net/http"

	"github.com/ehudso7/GhostTools/app/models"
	"github.com/ehudso7/GhostTools/auth"

	"github.com/gin-gonic/gin"
)

// Health is a public health check endpoint.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Me returns the authenticated user's credit balance and current subscription.
func Me(store BillingStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
			return
		}

		if db == nil {
			c.JSON(http.StatusOK, gin.H{
				"credits":      0,
				"subscription": nil,
			})
			return
		}

		user, err := currentUser(c.Request.Context(), claims)
		if err != nil {
			log.Printf("me lookup failed email=%s err=%v", claims.Email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}

		var (
			balance int
			sub     *models.Subscription
		)
		err = store.WithTx(c.Request.Context(), func(tx BillingTx) error {
			var err error
			balance, err = tx.CreditBalance(c.Request.Context(), user.ID)
			if err != nil {
				return err
			}
			sub, err = tx.CurrentSubscription(c.Request.Context(), user.ID)
			if errors.Is(err, ErrNotFound) {
				sub = nil
				return nil
			}
			return err
		})
		if err != nil {
			log.Printf("me billing lookup failed user=%s err=%v", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load billing state"})
			return
		}

		resp := gin.H{
			"id":           user.ID,
			"email":        user.Email,
			"name":         user.Name,
			"credits":      balance,
			"subscription": nil,
		}
		if sub != nil {
			resp["subscription"] = gin.H{
				"status":  sub.Status,
				"planId":  sub.PlanID,
				"endDate": sub.EndDate,
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetUsageHistory returns the latest 50 usage entries for the user.
func GetUsageHistory(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	if db == nil {
		c.JSON(http.StatusOK, gin.H{"history": []models.UsageEntry{}})
		return
	}

	user, err := currentUser(c.Request.Context(), claims)
	if err != nil {
		log.Printf("history lookup failed email=%s err=%v", claims.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	history, err := LoadUsageHistory(c.Request.Context(), user.ID, 50)
	if err != nil {
		log.Printf("history query failed user=%s err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if history == nil {
		history = []models.UsageEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
