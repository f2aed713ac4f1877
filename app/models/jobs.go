package models

import "time"

// TranscriptionJob tracks one queued podcast transcription.
type TranscriptionJob struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"-"`
	EpisodeURL string    `db:"episode_url" json:"episodeUrl"`
	Status     string    `db:"status" json:"status"` // queued | running | completed | failed
	Transcript string    `db:"transcript" json:"transcript,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// JobMessage is the SQS payload handed to the transcription workers.
type JobMessage struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	EpisodeURL string `json:"episode_url"`
}
