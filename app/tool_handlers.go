package app

import (
	"errors"
	"log"
	"net/http"

	"github.com/ehudso7/GhostTools/app/models"
	"github.com/ehudso7/GhostTools/auth"

	"github.com/gin-gonic/gin"
)

// AgentWrite generates a product description. Pro subscribers generate for
// free; everyone else is charged one credit per description.
func AgentWrite(store BillingStore, ai AIClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
			return
		}
		if db == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db not initialized"})
			return
		}
		if ai == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation not configured"})
			return
		}

		var req models.DescriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		user, err := currentUser(c.Request.Context(), claims)
		if err != nil {
			log.Printf("agentwrite user lookup failed email=%s err=%v", claims.Email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}

		// Cheap read before the expensive generation; the authoritative check
		// is the conditional spend afterwards.
		entitled, err := hasEntitlement(c.Request.Context(), store, user.ID)
		if err != nil {
			log.Printf("agentwrite entitlement check failed user=%s err=%v", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check credits"})
			return
		}
		if !entitled {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient credits. Please purchase credits or subscribe to a plan."})
			return
		}

		description, err := ai.GenerateProductDescription(c.Request.Context(), req)
		if err != nil {
			log.Printf("agentwrite generation failed user=%s err=%v", user.ID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to generate description"})
			return
		}

		remaining, unlimited, err := consumeToolCredit(c.Request.Context(), store, user.ID, ToolAgentWrite)
		if err != nil {
			var qe quotaError
			if errors.As(err, &qe) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient credits. Please purchase credits or subscribe to a plan."})
				return
			}
			log.Printf("agentwrite credit spend failed user=%s err=%v", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record usage"})
			return
		}

		resp := gin.H{"description": description}
		if !unlimited {
			resp["creditsRemaining"] = remaining
		}
		c.JSON(http.StatusOK, resp)
	}
}

// PodScribe queues a podcast episode for transcription. The heavy work runs
// on the worker fleet; this endpoint charges the credit, records the job row
// in the same transaction, and enqueues the job.
func PodScribe(store BillingStore, queue TranscriptionQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
			return
		}
		if db == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db not initialized"})
			return
		}
		if queue == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription not configured"})
			return
		}

		var req models.TranscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		user, err := currentUser(c.Request.Context(), claims)
		if err != nil {
			log.Printf("podscribe user lookup failed email=%s err=%v", claims.Email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}

		jobID, remaining, unlimited, err := startTranscription(c.Request.Context(), store, queue, user.ID, req.EpisodeURL)
		if err != nil {
			var qe quotaError
			switch {
			case errors.As(err, &qe):
				c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient credits. Please purchase credits or subscribe to a plan."})
			case errors.Is(err, errEnqueueFailed):
				log.Printf("podscribe enqueue failed user=%s err=%v", user.ID, err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to queue transcription"})
			default:
				log.Printf("podscribe job create failed user=%s err=%v", user.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
			}
			return
		}

		resp := gin.H{"jobId": jobID, "status": "queued"}
		if !unlimited {
			resp["creditsRemaining"] = remaining
		}
		c.JSON(http.StatusAccepted, resp)
	}
}
