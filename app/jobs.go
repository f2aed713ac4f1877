package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ehudso7/GhostTools/app/models"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// errEnqueueFailed wraps queue send failures so handlers can distinguish
// them from billing errors.
var errEnqueueFailed = errors.New("failed to enqueue transcription")

// TranscriptionQueue hands jobs to the worker fleet.
type TranscriptionQueue interface {
	Enqueue(ctx context.Context, msg models.JobMessage) error
}

// SQSTranscriptionQueue sends job messages to an SQS queue. The client is
// built once at startup, same as on the worker side.
type SQSTranscriptionQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSTranscriptionQueue(ctx context.Context, queueURL string) (*SQSTranscriptionQueue, error) {
	if queueURL == "" {
		return nil, errors.New("queue url must be set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SQS: %w", err)
	}
	return &SQSTranscriptionQueue{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: queueURL,
	}, nil
}

func (q *SQSTranscriptionQueue) Enqueue(ctx context.Context, msg models.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message job=%s: %w", msg.JobID, err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send SQS message job=%s: %w", msg.JobID, err)
	}
	return nil
}

// startTranscription charges one credit and records the job row in the same
// transaction, then enqueues the job. If the enqueue fails the charge is
// refunded and the job marked failed, so a queued row always has a message
// behind it.
func startTranscription(ctx context.Context, store BillingStore, queue TranscriptionQueue, userID, episodeURL string) (jobID string, remaining int, unlimited bool, err error) {
	jobID = uuid.NewString()
	remaining, unlimited, err = consumeToolCreditWith(ctx, store, userID, ToolPodScribe, func(tx BillingTx) error {
		return tx.CreateTranscriptionJob(ctx, models.TranscriptionJob{
			ID:         jobID,
			UserID:     userID,
			EpisodeURL: episodeURL,
			Status:     "queued",
		})
	})
	if err != nil {
		return "", 0, false, err
	}
	log.Printf("Created transcription job %s for user=%s", jobID, userID)

	msg := models.JobMessage{JobID: jobID, UserID: userID, EpisodeURL: episodeURL}
	if qerr := queue.Enqueue(ctx, msg); qerr != nil {
		if cerr := store.WithTx(ctx, func(tx BillingTx) error {
			if err := tx.SetTranscriptionJobStatus(ctx, jobID, "failed"); err != nil {
				return err
			}
			if unlimited {
				return nil
			}
			return tx.AddCredits(ctx, userID, 1)
		}); cerr != nil {
			log.Printf("failed to refund transcription charge job=%s: %v", jobID, cerr)
		}
		return "", 0, false, fmt.Errorf("%w: job=%s: %v", errEnqueueFailed, jobID, qerr)
	}
	return jobID, remaining, unlimited, nil
}

// UpdateTranscriptionJobStatus moves a job through queued/running/completed/failed.
func UpdateTranscriptionJobStatus(ctx context.Context, jobID, status string) error {
	const q = `
        UPDATE transcription_jobs
        SET status = $2, updated_at = now()
        WHERE id = $1;
    `
	res, err := db.ExecContext(ctx, q, jobID, status)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		log.Printf("UpdateTranscriptionJobStatus: no job row found for id=%s", jobID)
	}
	return nil
}

// FindTranscriptionJob fetches one job by id.
func FindTranscriptionJob(ctx context.Context, jobID string) (models.TranscriptionJob, error) {
	var job models.TranscriptionJob

	const q = `
        SELECT id, user_id, episode_url, status, COALESCE(transcript, ''), created_at, updated_at
        FROM transcription_jobs
        WHERE id = $1;
    `
	row := db.QueryRowContext(ctx, q, jobID)
	if err := row.Scan(&job.ID, &job.UserID, &job.EpisodeURL, &job.Status, &job.Transcript, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.TranscriptionJob{}, err
	}
	return job, nil
}

// CompleteTranscriptionJob stores the transcript and marks the job done.
func CompleteTranscriptionJob(ctx context.Context, jobID, transcript string) error {
	const q = `
        UPDATE transcription_jobs
        SET status = 'completed', transcript = $2, updated_at = now()
        WHERE id = $1;
    `
	_, err := db.ExecContext(ctx, q, jobID, transcript)
	return err
}

// ProcessTranscription runs one job end to end: mark running, transcribe,
// persist the result. Failures flip the job to failed and return the error so
// the worker can decide whether to retry the message.
func ProcessTranscription(ctx context.Context, ai *OpenAIClient, job models.JobMessage) error {
	if err := UpdateTranscriptionJobStatus(ctx, job.JobID, "running"); err != nil {
		return err
	}

	transcript, err := ai.TranscribeEpisode(ctx, job.EpisodeURL)
	if err != nil {
		if updateErr := UpdateTranscriptionJobStatus(ctx, job.JobID, "failed"); updateErr != nil {
			log.Printf("failed to mark job failed job=%s: %v", job.JobID, updateErr)
		}
		return err
	}

	return CompleteTranscriptionJob(ctx, job.JobID, transcript)
}

// GetJobStatus returns status for a transcription job.
func GetJobStatus(c *gin.Context) {
	jobID := c.Param("jobid")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing job id"})
		return
	}
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db not initialized"})
		return
	}

	job, err := FindTranscriptionJob(c.Request.Context(), jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, job)
}
