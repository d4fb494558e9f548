package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// PatternStorage implements the PatternStorage interface for Badger
type PatternStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPatternStorage creates a new PatternStorage instance
func NewPatternStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PatternStorage {
	return &PatternStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PatternStorage) SavePattern(ctx context.Context, pattern *models.Pattern) error {
	if pattern.ID == "" {
		return fmt.Errorf("pattern ID is required")
	}
	if err := s.db.Store().Upsert(pattern.ID, pattern); err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

func (s *PatternStorage) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	var pattern models.Pattern
	if err := s.db.Store().Get(patternID, &pattern); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("pattern not found: %s", patternID)
		}
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return &pattern, nil
}

func (s *PatternStorage) ListPatterns(ctx context.Context, siteKey string) ([]*models.Pattern, error) {
	query := badgerhold.Where("SiteKey").Eq(siteKey).SortBy("Confidence").Reverse()

	var patterns []models.Pattern
	if err := s.db.Store().Find(&patterns, query); err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}

	result := make([]*models.Pattern, len(patterns))
	for i := range patterns {
		result[i] = &patterns[i]
	}
	return result, nil
}

func (s *PatternStorage) SaveTemporalPattern(ctx context.Context, pattern *models.TemporalPattern) error {
	if pattern.ID == "" {
		return fmt.Errorf("temporal pattern ID is required")
	}
	if err := s.db.Store().Upsert(pattern.ID, pattern); err != nil {
		return fmt.Errorf("failed to save temporal pattern: %w", err)
	}
	return nil
}

func (s *PatternStorage) ListTemporalPatterns(ctx context.Context, siteKey string) ([]*models.TemporalPattern, error) {
	var patterns []models.TemporalPattern
	if err := s.db.Store().Find(&patterns, badgerhold.Where("SiteKey").Eq(siteKey)); err != nil {
		return nil, fmt.Errorf("failed to list temporal patterns: %w", err)
	}

	result := make([]*models.TemporalPattern, len(patterns))
	for i := range patterns {
		result[i] = &patterns[i]
	}
	return result, nil
}

func (s *PatternStorage) SaveArchiveStructure(ctx context.Context, structure *models.ArchiveStructure) error {
	if structure.ID == "" {
		return fmt.Errorf("archive structure ID is required")
	}
	if err := s.db.Store().Upsert(structure.ID, structure); err != nil {
		return fmt.Errorf("failed to save archive structure: %w", err)
	}
	return nil
}

func (s *PatternStorage) ListArchiveStructures(ctx context.Context, siteKey string) ([]*models.ArchiveStructure, error) {
	var structures []models.ArchiveStructure
	if err := s.db.Store().Find(&structures, badgerhold.Where("SiteKey").Eq(siteKey)); err != nil {
		return nil, fmt.Errorf("failed to list archive structures: %w", err)
	}

	result := make([]*models.ArchiveStructure, len(structures))
	for i := range structures {
		result[i] = &structures[i]
	}
	return result, nil
}
