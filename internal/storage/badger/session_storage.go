package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// SessionStorage implements the SessionStorage interface for Badger
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// sessionLogRecord wraps a SessionLog with a key for badgerhold
type sessionLogRecord struct {
	ID        string `badgerhold:"key"`
	SessionID string
	Log       models.SessionLog
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) SaveSession(ctx context.Context, session *models.LiveCrawlSession) error {
	if session.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	session.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(session.SessionID, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStorage) GetSession(ctx context.Context, sessionID string) (*models.LiveCrawlSession, error) {
	var session models.LiveCrawlSession
	if err := s.db.Store().Get(sessionID, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionStorage) ListSessions(ctx context.Context, activeOnly bool, limit int) ([]*models.LiveCrawlSession, error) {
	query := badgerhold.Where("SessionID").Ne("")
	if activeOnly {
		query = badgerhold.Where("Status").In(
			models.JobStatusQueued,
			models.JobStatusInitializing,
			models.JobStatusSearching,
			models.JobStatusCrawling,
			models.JobStatusExtracting,
			models.JobStatusPaused,
		)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	query = query.SortBy("CreatedAt").Reverse()

	var sessions []models.LiveCrawlSession
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := make([]*models.LiveCrawlSession, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}
	return result, nil
}

func (s *SessionStorage) AppendSessionLog(ctx context.Context, log *models.SessionLog) error {
	record := sessionLogRecord{
		ID:        "slog_" + uuid.New().String(),
		SessionID: log.SessionID,
		Log:       *log,
	}
	if err := s.db.Store().Insert(record.ID, &record); err != nil {
		return fmt.Errorf("failed to append session log: %w", err)
	}
	return nil
}

func (s *SessionStorage) GetSessionLogs(ctx context.Context, sessionID string, limit int) ([]*models.SessionLog, error) {
	query := badgerhold.Where("SessionID").Eq(sessionID).SortBy("Log.Timestamp")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []sessionLogRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get session logs: %w", err)
	}

	result := make([]*models.SessionLog, len(records))
	for i := range records {
		result[i] = &records[i].Log
	}
	return result, nil
}
