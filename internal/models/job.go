package models

import (
	"time"
)

// JobPriority orders jobs across the orchestrator's four queues.
// Lower value = higher priority.
type JobPriority int

const (
	PriorityCritical JobPriority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// String returns the lowercase priority name
func (p JobPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// ParsePriority converts a priority name to a JobPriority, defaulting to medium
func ParsePriority(s string) JobPriority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// JobOrigin records why a job exists.
type JobOrigin string

const (
	OriginUserRequest        JobOrigin = "user_request"
	OriginAutomatedDiscovery JobOrigin = "automated_discovery"
	OriginHistoricalBackfill JobOrigin = "historical_backfill"
	OriginVerification       JobOrigin = "verification"
)

// DefaultPriority maps an origin to its scheduling priority.
func (o JobOrigin) DefaultPriority() JobPriority {
	switch o {
	case OriginAutomatedDiscovery:
		return PriorityLow
	case OriginHistoricalBackfill:
		return PriorityMedium
	case OriginVerification:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// JobStatus is the lifecycle state of a crawl job / session.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusInitializing JobStatus = "initializing"
	JobStatusSearching    JobStatus = "searching"
	JobStatusCrawling     JobStatus = "crawling"
	JobStatusExtracting   JobStatus = "extracting"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
	JobStatusPaused       JobStatus = "paused"
)

// IsTerminal reports whether the status is an end state.
// Completed and cancelled jobs never re-enter a running state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsRunning reports whether the job is actively held by a worker.
func (s JobStatus) IsRunning() bool {
	switch s {
	case JobStatusInitializing, JobStatusSearching, JobStatusCrawling, JobStatusExtracting:
		return true
	}
	return false
}

// CrawlConstraints bounds a single crawl job.
type CrawlConstraints struct {
	MaxTimeMinutes         int           `json:"max_time_minutes"`
	MaxPages               int           `json:"max_pages"`
	MaxDepth               int           `json:"max_depth"`
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads"`
	RequestDelay           time.Duration `json:"request_delay"`
	RespectRobots          bool          `json:"respect_robots"`
	AllowedDomains         []string      `json:"allowed_domains,omitempty"`
	BlockedDomains         []string      `json:"blocked_domains,omitempty"`
}

// DefaultConstraints returns the constraint set used when a submit request
// leaves constraints unset.
func DefaultConstraints() CrawlConstraints {
	return CrawlConstraints{
		MaxTimeMinutes:         30,
		MaxPages:               100,
		MaxDepth:               3,
		MaxConcurrentDownloads: 5,
		RequestDelay:           time.Second,
		RespectRobots:          true,
	}
}

// Job is the scheduler-visible unit of work.
type Job struct {
	ID          string           `json:"id" badgerhold:"key"`
	SiteKey     string           `json:"site_key"`
	Year        int              `json:"year"`
	Priority    JobPriority      `json:"priority"`
	Origin      JobOrigin        `json:"origin"`
	Status      JobStatus        `json:"status"`
	Constraints CrawlConstraints `json:"constraints"`
	// RequestedMode discovery replaces the learning engine's recommendation
	// and hybrid wraps it with a discovery fallback; targeted, reverse and
	// empty use the recommendation unchanged.
	RequestedMode CrawlModeKind `json:"requested_mode,omitempty"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	ScheduledFor  *time.Time    `json:"scheduled_for,omitempty"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	// EnqueuedAt is reset on every (re-)enqueue; aging promotion reads it.
	EnqueuedAt time.Time `json:"enqueued_at"`
	SessionID  string    `json:"session_id"`
}

// CrawlSessionRequest is the validated submit payload.
type CrawlSessionRequest struct {
	SiteKey     string            `json:"site_key" validate:"required,min=2,max=128"`
	Year        int               `json:"year" validate:"required"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=critical high medium low"`
	Mode        string            `json:"mode" validate:"omitempty,oneof=discovery targeted reverse hybrid"`
	Constraints *CrawlConstraints `json:"constraints,omitempty"`
	CreatedBy   string            `json:"created_by"`
}

// CrawlSessionResponse is returned by Orchestrator.Submit.
type CrawlSessionResponse struct {
	SessionID      string    `json:"session_id"`
	Status         JobStatus `json:"status"`
	EstimatedStart time.Time `json:"estimated_start"`
	QueuePosition  int       `json:"queue_position"`
}
