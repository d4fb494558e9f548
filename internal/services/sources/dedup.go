package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/graben/internal/models"
)

// dedupAction decides what to do with one group of same-hash records.
type dedupAction int

const (
	dedupKeepDataBearing dedupAction = iota
	dedupKeepOnePerSession
	dedupManualReview
)

// Deduplicate scans all records, groups active ones by hash, and resolves
// each group of size > 1:
//   - extraction asymmetry: keep one data-bearing record, deactivate the rest
//   - all from one session: keep one, deactivate the rest
//   - different sessions, no asymmetry: flag for manual review
func (s *Service) Deduplicate(ctx context.Context) (*models.DeduplicationResult, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.DeduplicationResult{}

	groups := make(map[string][]*models.FileMetadata)
	for _, m := range s.cache {
		result.FilesAnalyzed++
		if m.IsActive {
			groups[m.FileHash] = append(groups[m.FileHash], m)
		}
	}

	for hash, group := range groups {
		if len(group) < 2 {
			continue
		}
		result.GroupsAnalyzed++
		result.DuplicatesFound += len(group) - 1

		switch analyzeGroup(group) {
		case dedupKeepDataBearing:
			keeper := pickDataBearing(group)
			for _, m := range group {
				if m.ID == keeper.ID {
					continue
				}
				s.deactivateDuplicateLocked(m, keeper, hash)
				result.FilesDeduped++
				result.BytesSaved += m.FileSize
			}
		case dedupKeepOnePerSession:
			keeper := oldestOf(group)
			for _, m := range group {
				if m.ID == keeper.ID {
					continue
				}
				s.deactivateDuplicateLocked(m, keeper, hash)
				result.FilesDeduped++
				result.BytesSaved += m.FileSize
			}
		case dedupManualReview:
			for _, m := range group {
				m.AdminFlagged = true
				result.ManualReviewIDs = append(result.ManualReviewIDs, m.ID)
			}
			s.addAuditEntryLocked(models.AuditFileDeduplicated, hash, "source_manager",
				map[string]string{"group_size": fmt.Sprintf("%d", len(group))},
				models.ResultSkipped("cross-session duplicates require manual review"))
		}
	}

	result.DurationMillis = time.Since(start).Milliseconds()

	s.addAuditEntryLocked(models.AuditFileDeduplicated, "dedup_pass", "source_manager",
		map[string]string{
			"analyzed":     fmt.Sprintf("%d", result.FilesAnalyzed),
			"found":        fmt.Sprintf("%d", result.DuplicatesFound),
			"deduplicated": fmt.Sprintf("%d", result.FilesDeduped),
			"bytes_saved":  fmt.Sprintf("%d", result.BytesSaved),
		}, models.ResultSuccess())

	s.logger.Info().
		Int("analyzed", result.FilesAnalyzed).
		Int("found", result.DuplicatesFound).
		Int("deduplicated", result.FilesDeduped).
		Int64("bytes_saved", result.BytesSaved).
		Msg("Deduplication pass completed")

	return result, nil
}

func (s *Service) deactivateDuplicateLocked(dup, keeper *models.FileMetadata, hash string) {
	now := time.Now().UTC()
	dup.IsActive = false
	if !containsString(dup.DuplicateRefs, keeper.ID) {
		dup.DuplicateRefs = append(dup.DuplicateRefs, keeper.ID)
	}
	dup.ModifiedAt = now
	dup.Provenance = append(dup.Provenance, models.ProvenanceStep{
		Timestamp: now,
		Action:    models.ProvDeduplicated,
		Actor:     "source_manager",
		Context:   map[string]string{"kept_id": keeper.ID, "hash": hash},
	})
}

// analyzeGroup classifies a duplicate group per the decision rules.
func analyzeGroup(group []*models.FileMetadata) dedupAction {
	withData, withoutData := 0, 0
	sessions := make(map[string]bool)
	for _, m := range group {
		if m.HasExtractedData() {
			withData++
		} else {
			withoutData++
		}
		sessions[m.SessionID] = true
	}

	if withData > 0 && withoutData > 0 {
		return dedupKeepDataBearing
	}
	if len(sessions) == 1 {
		return dedupKeepOnePerSession
	}
	return dedupManualReview
}

func pickDataBearing(group []*models.FileMetadata) *models.FileMetadata {
	var keeper *models.FileMetadata
	for _, m := range group {
		if !m.HasExtractedData() {
			continue
		}
		if keeper == nil || m.CreatedAt.Before(keeper.CreatedAt) {
			keeper = m
		}
	}
	if keeper == nil {
		keeper = oldestOf(group)
	}
	return keeper
}

func oldestOf(group []*models.FileMetadata) *models.FileMetadata {
	keeper := group[0]
	for _, m := range group[1:] {
		if m.CreatedAt.Before(keeper.CreatedAt) {
			keeper = m
		}
	}
	return keeper
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
