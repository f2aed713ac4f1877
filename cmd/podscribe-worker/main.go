package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/ehudso7/GhostTools/app"
	"github.com/ehudso7/GhostTools/app/config"
	"github.com/ehudso7/GhostTools/app/models"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

func main() {
	baseCtx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.QueueURL == "" {
		log.Fatal("QUEUE_URL environment variable is required")
	}

	app.MustInitDB()
	ai := app.NewOpenAIClient(cfg.OpenAI)

	awsCfg, err := awsconfig.LoadDefaultConfig(baseCtx)
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	log.Printf("Worker started, listening on SQS queue: %s", cfg.QueueURL)

	for {
		recvCtx, cancel := context.WithTimeout(baseCtx, 30*time.Second)
		resp, err := sqsClient.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            &cfg.QueueURL,
			MaxNumberOfMessages: 5,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   600, // must outlast the longest transcription
		})
		cancel()

		if err != nil {
			log.Printf("ReceiveMessage error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if len(resp.Messages) == 0 {
			time.Sleep(2 * time.Second)
			continue
		}

		for _, m := range resp.Messages {
			if m.Body == nil {
				log.Printf("received message with empty body, skipping: %#v", m)
				continue
			}

			var job models.JobMessage
			if err := json.Unmarshal([]byte(*m.Body), &job); err != nil {
				log.Printf("failed to unmarshal job message: %v, body=%s", err, *m.Body)
				// bad payload would retry forever; drop it
				deleteMessage(sqsClient, cfg.QueueURL, m)
				continue
			}

			log.Printf("Received job: job_id=%s user=%s episode=%s", job.JobID, job.UserID, job.EpisodeURL)

			jobCtx, jobCancel := context.WithTimeout(baseCtx, 8*time.Minute)
			err := app.ProcessTranscription(jobCtx, ai, job)
			jobCancel()

			if err != nil {
				log.Printf("error processing job job_id=%s: %v", job.JobID, err)
				// leave the message for SQS to redeliver after VisibilityTimeout
				continue
			}

			deleteMessage(sqsClient, cfg.QueueURL, m)
		}
	}
}

func deleteMessage(sqsClient *sqs.Client, queueURL string, m sqstypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	_, err := sqsClient.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      &queueURL,
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		log.Printf("failed to delete SQS message: %v", err)
	}
}
