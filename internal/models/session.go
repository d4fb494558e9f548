package models

import (
	"time"
)

// LiveCrawlSession is the observable projection of a running job.
// Workers never mutate sessions directly; every update goes through the
// orchestrator's progress logger so ordering is preserved.
type LiveCrawlSession struct {
	SessionID           string     `json:"session_id" badgerhold:"key"`
	JobID               string     `json:"job_id"`
	SiteKey             string     `json:"site_key"`
	Year                int        `json:"year"`
	Status              JobStatus  `json:"status"`
	Phase               string     `json:"phase"`
	Progress            float64    `json:"progress"` // percent, 0..100, monotone while not paused/cancelled
	CurrentURL          string     `json:"current_url,omitempty"`
	PagesVisited        int        `json:"pages_visited"`
	FilesDownloaded     int        `json:"files_downloaded"`
	RecordsExtracted    int        `json:"records_extracted"`
	ErrorCount          int        `json:"error_count"`
	FirstError          string     `json:"first_error,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	WorkerID            string     `json:"worker_id,omitempty"`
	ParentSessionID     string     `json:"parent_session_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SessionLog is a single progress log line attached to a session.
type SessionLog struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
}

// ProgressUpdate is the value a worker hands to the orchestrator at each
// suspension point. Everything the orchestrator needs to survive a worker
// crash must travel through here.
type ProgressUpdate struct {
	SessionID        string
	Status           JobStatus
	Phase            string
	Progress         float64
	CurrentURL       string
	PagesVisited     int
	FilesDownloaded  int
	RecordsExtracted int
	ErrorCount       int
	FirstError       string
	Message          string
}
