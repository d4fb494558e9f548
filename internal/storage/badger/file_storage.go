package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// FileMetadataStorage implements the FileMetadataStorage interface for Badger
type FileMetadataStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFileMetadataStorage creates a new FileMetadataStorage instance
func NewFileMetadataStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FileMetadataStorage {
	return &FileMetadataStorage{
		db:     db,
		logger: logger,
	}
}

func (s *FileMetadataStorage) SaveFileMetadata(ctx context.Context, metadata *models.FileMetadata) error {
	if metadata.ID == "" {
		return fmt.Errorf("file metadata ID is required")
	}
	if err := s.db.Store().Upsert(metadata.ID, metadata); err != nil {
		return fmt.Errorf("failed to save file metadata: %w", err)
	}
	return nil
}

func (s *FileMetadataStorage) GetFileMetadata(ctx context.Context, fileID string) (*models.FileMetadata, error) {
	var metadata models.FileMetadata
	if err := s.db.Store().Get(fileID, &metadata); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("file metadata not found: %s", fileID)
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}
	return &metadata, nil
}

func (s *FileMetadataStorage) ListFileMetadata(ctx context.Context, siteKey string, year int) ([]*models.FileMetadata, error) {
	query := badgerhold.Where("SiteKey").Eq(siteKey)
	if year > 0 {
		query = query.And("Year").Eq(year)
	}

	var records []models.FileMetadata
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list file metadata: %w", err)
	}

	result := make([]*models.FileMetadata, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
