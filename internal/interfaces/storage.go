package interfaces

import (
	"context"

	"github.com/ternarybob/graben/internal/models"
)

// JobStorage persists jobs so queue invariants survive restarts.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// SessionStorage persists live-session projections.
type SessionStorage interface {
	SaveSession(ctx context.Context, session *models.LiveCrawlSession) error
	GetSession(ctx context.Context, sessionID string) (*models.LiveCrawlSession, error)
	ListSessions(ctx context.Context, activeOnly bool, limit int) ([]*models.LiveCrawlSession, error)
	AppendSessionLog(ctx context.Context, log *models.SessionLog) error
	GetSessionLogs(ctx context.Context, sessionID string, limit int) ([]*models.SessionLog, error)
}

// PatternStorage persists the learning engine's catalog.
type PatternStorage interface {
	SavePattern(ctx context.Context, pattern *models.Pattern) error
	GetPattern(ctx context.Context, patternID string) (*models.Pattern, error)
	ListPatterns(ctx context.Context, siteKey string) ([]*models.Pattern, error)
	SaveTemporalPattern(ctx context.Context, pattern *models.TemporalPattern) error
	ListTemporalPatterns(ctx context.Context, siteKey string) ([]*models.TemporalPattern, error)
	SaveArchiveStructure(ctx context.Context, structure *models.ArchiveStructure) error
	ListArchiveStructures(ctx context.Context, siteKey string) ([]*models.ArchiveStructure, error)
}

// FileMetadataStorage mirrors the source manager's in-memory cache so scan
// provenance and admin state survive restarts without re-deriving them.
type FileMetadataStorage interface {
	SaveFileMetadata(ctx context.Context, metadata *models.FileMetadata) error
	GetFileMetadata(ctx context.Context, fileID string) (*models.FileMetadata, error)
	ListFileMetadata(ctx context.Context, siteKey string, year int) ([]*models.FileMetadata, error)
}

// StorageManager bundles the badger-backed stores.
type StorageManager interface {
	JobStorage() JobStorage
	SessionStorage() SessionStorage
	PatternStorage() PatternStorage
	FileMetadataStorage() FileMetadataStorage
	Close() error
}
