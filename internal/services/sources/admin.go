package sources

import (
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/graben/internal/models"
)

// ReviewResult reports an admin review.
type ReviewResult struct {
	FileID     string                    `json:"file_id"`
	Decision   models.AdminDecision      `json:"decision"`
	Reviewer   string                    `json:"reviewer"`
	ReviewedAt time.Time                 `json:"reviewed_at"`
	NewStatus  models.VerificationStatus `json:"new_status"`
}

// Review applies an admin decision to a stored file.
// Approved clears the flag and marks Verified; Rejected deactivates the
// record; RequiresMoreReview and Flagged raise the flag.
func (s *Service) Review(fileID string, decision models.AdminDecision, reviewer, notes string) (*ReviewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, ok := s.cache[fileID]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", fileID)
	}

	now := time.Now().UTC()
	provAction := models.ProvAdminVerified

	switch decision.Kind {
	case models.DecisionApproved:
		metadata.Verification = models.VerificationVerified
		metadata.AdminFlagged = false
	case models.DecisionRejected:
		metadata.Verification = models.VerificationRejected
		metadata.IsActive = false
	case models.DecisionRequiresMoreReview, models.DecisionFlagged:
		metadata.AdminFlagged = true
		provAction = models.ProvAdminFlagged
	default:
		return nil, fmt.Errorf("unknown admin decision: %s", decision.Kind)
	}

	metadata.AdminNotes = notes
	metadata.ModifiedAt = now
	metadata.Provenance = append(metadata.Provenance, models.ProvenanceStep{
		Timestamp: now,
		Action:    provAction,
		Actor:     reviewer,
		Context:   map[string]string{"decision": string(decision.Kind), "reason": decision.Reason},
	})

	s.addAuditEntryLocked(models.AuditAdminReview, fileID, reviewer,
		map[string]string{"decision": string(decision.Kind)}, models.ResultSuccess())

	s.logger.Info().
		Str("file_id", fileID).
		Str("decision", string(decision.Kind)).
		Str("reviewer", reviewer).
		Msg("Admin review applied")

	return &ReviewResult{
		FileID:     fileID,
		Decision:   decision,
		Reviewer:   reviewer,
		ReviewedAt: now,
		NewStatus:  metadata.Verification,
	}, nil
}

// FileStatistics summarizes the cache for reporting.
type FileStatistics struct {
	TotalFiles     int            `json:"total_files"`
	ActiveFiles    int            `json:"active_files"`
	VerifiedFiles  int            `json:"verified_files"`
	FlaggedFiles   int            `json:"flagged_files"`
	TotalBytes     int64          `json:"total_bytes"`
	FilesBySite    map[string]int `json:"files_by_site"`
	FilesByYear    map[int]int    `json:"files_by_year"`
	IntegrityState map[string]int `json:"integrity_state"`
}

// Statistics computes aggregate counts over the cache.
func (s *Service) Statistics() FileStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := FileStatistics{
		FilesBySite:    make(map[string]int),
		FilesByYear:    make(map[int]int),
		IntegrityState: make(map[string]int),
	}

	for _, m := range s.cache {
		stats.TotalFiles++
		if m.IsActive {
			stats.ActiveFiles++
			stats.TotalBytes += m.FileSize
		}
		if m.Verification == models.VerificationVerified {
			stats.VerifiedFiles++
		}
		if m.AdminFlagged {
			stats.FlaggedFiles++
		}
		stats.FilesBySite[m.SiteKey]++
		stats.FilesByYear[m.Year]++
		stats.IntegrityState[string(m.Integrity.State)]++
	}

	return stats
}

// AuditReport returns audit entries within the trailing day window, oldest first.
func (s *Service) AuditReport(days int) []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var result []models.AuditEntry
	for _, entry := range s.auditTrail {
		if entry.Timestamp.After(cutoff) {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result
}
