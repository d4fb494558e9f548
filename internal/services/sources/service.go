// -----------------------------------------------------------------------
// Last Modified: Friday, 31st July 2026 9:42:17 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

const (
	dataDirName      = "dno-data"
	auditTrailCap    = 10000
	auditTrailTrim   = 1000
	scannerActor     = "file_scanner"
)

// Service is the content-addressed store for downloaded artifacts.
// Layout: <base>/dno-data/<site-key>/<year>/<filename>. Files keep their
// human-readable names; the SHA-256 lives in metadata, not the path.
type Service struct {
	baseDir   string
	sessionID string

	mu         sync.RWMutex
	cache      map[string]*models.FileMetadata // file id -> record
	hashIndex  map[string][]string             // hash -> file ids
	auditTrail []models.AuditEntry

	// hashLocks serializes concurrent stores of identical bytes so duplicate
	// detection observes a consistent cache.
	hashLocks sync.Map

	mirror interfaces.FileMetadataStorage // optional badger mirror
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.SourceService = (*Service)(nil)

// NewService creates a source manager rooted at baseDir and scans any files
// already on disk so the manager resumes across process restarts.
func NewService(baseDir string, mirror interfaces.FileMetadataStorage, logger arbor.ILogger) (*Service, error) {
	dataDir := filepath.Join(baseDir, dataDirName)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	s := &Service{
		baseDir:   baseDir,
		cache:     make(map[string]*models.FileMetadata),
		hashIndex: make(map[string][]string),
		mirror:    mirror,
		logger:    logger,
	}

	if err := s.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("initial file scan failed: %w", err)
	}

	logger.Info().
		Str("base_dir", baseDir).
		Int("files", len(s.cache)).
		Msg("Source manager initialized")

	return s, nil
}

// SetSession attributes subsequent mutations to a crawl session.
func (s *Service) SetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
}

// SitePath returns the storage directory for a site key and year.
func (s *Service) SitePath(siteKey string, year int) string {
	return filepath.Join(s.baseDir, dataDirName, siteKey, fmt.Sprintf("%d", year))
}

// Store writes an artifact into the content-addressed cache.
// Identical bytes (same hash, active record) are not written again; the new
// record becomes a duplicate reference instead.
func (s *Service) Store(ctx context.Context, req *interfaces.StoreRequest) (*models.FileMetadata, error) {
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("refusing to store empty content for %s", req.Filename)
	}

	hash := calculateHash(req.Content)

	// Serialize stores of the same bytes
	lockVal, _ := s.hashLocks.LoadOrStore(hash, &sync.Mutex{})
	hashLock := lockVal.(*sync.Mutex)
	hashLock.Lock()
	defer hashLock.Unlock()

	now := time.Now().UTC()

	s.mu.Lock()
	original := s.findActiveByHashLocked(hash, req.SiteKey)
	sessionID := s.sessionID
	s.mu.Unlock()

	if original != nil {
		metadata := &models.FileMetadata{
			ID:           common.NewFileID(),
			SiteKey:      req.SiteKey,
			Year:         req.Year,
			RelativePath: original.RelativePath,
			AbsolutePath: original.AbsolutePath,
			FileHash:     hash,
			FileSize:     int64(len(req.Content)),
			MimeType:     req.MimeType,
			SourceURL:    req.SourceURL,
			FinalURL:     req.FinalURL,
			SourceType:   req.SourceType,
			CreatedAt:    now,
			ModifiedAt:   now,
			IsActive:     true,
			Verification: models.VerificationNotReviewed,
			SessionID:    sessionID,
			Integrity:    models.IntegrityStatus{State: models.IntegrityValid},
			DuplicateRefs: []string{original.ID},
			Provenance: []models.ProvenanceStep{
				{
					Timestamp: now,
					Action:    models.ProvDiscovered,
					Actor:     "crawler",
					SessionID: sessionID,
					SourceRef: req.SourceURL,
				},
				{
					Timestamp: now,
					Action:    models.ProvDeduplicated,
					Actor:     "source_manager",
					SessionID: sessionID,
					Context:   map[string]string{"original_id": original.ID},
				},
			},
		}

		s.mu.Lock()
		s.insertLocked(metadata)
		s.addAuditEntryLocked(models.AuditFileDeduplicated, metadata.ID, "source_manager",
			map[string]string{"hash": hash, "original_id": original.ID}, models.ResultSuccess())
		s.mu.Unlock()

		s.persistMirror(ctx, metadata)

		s.logger.Debug().
			Str("file_id", metadata.ID).
			Str("original_id", original.ID).
			Str("hash", hash[:12]).
			Msg("Duplicate content detected - stored as reference")

		return metadata, nil
	}

	dir := s.SitePath(req.SiteKey, req.Year)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.recordStoreFailure(req, fmt.Sprintf("create directory: %v", err))
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	absPath := filepath.Join(dir, req.Filename)
	if err := writeFileAtomic(absPath, req.Content); err != nil {
		s.recordStoreFailure(req, err.Error())
		return nil, fmt.Errorf("failed to write %s: %w", absPath, err)
	}

	relPath, err := filepath.Rel(s.baseDir, absPath)
	if err != nil {
		relPath = absPath
	}

	metadata := &models.FileMetadata{
		ID:           common.NewFileID(),
		SiteKey:      req.SiteKey,
		Year:         req.Year,
		RelativePath: relPath,
		AbsolutePath: absPath,
		FileHash:     hash,
		FileSize:     int64(len(req.Content)),
		MimeType:     req.MimeType,
		SourceURL:    req.SourceURL,
		FinalURL:     req.FinalURL,
		SourceType:   req.SourceType,
		CreatedAt:    now,
		ModifiedAt:   now,
		IsActive:     true,
		Verification: models.VerificationNotReviewed,
		SessionID:    sessionID,
		Integrity:    models.IntegrityStatus{State: models.IntegrityValid},
		Provenance: []models.ProvenanceStep{
			{
				Timestamp: now,
				Action:    models.ProvDiscovered,
				Actor:     "crawler",
				SessionID: sessionID,
				SourceRef: req.SourceURL,
			},
			{
				Timestamp: now,
				Action:    models.ProvDownloaded,
				Actor:     "source_manager",
				SessionID: sessionID,
				Context:   map[string]string{"path": relPath},
			},
		},
	}

	s.mu.Lock()
	s.insertLocked(metadata)
	s.addAuditEntryLocked(models.AuditFileCreated, metadata.ID, "source_manager",
		map[string]string{"path": relPath, "hash": hash, "size": fmt.Sprintf("%d", metadata.FileSize)},
		models.ResultSuccess())
	s.mu.Unlock()

	s.persistMirror(ctx, metadata)

	s.logger.Info().
		Str("file_id", metadata.ID).
		Str("site_key", req.SiteKey).
		Int("year", req.Year).
		Str("path", relPath).
		Int64("size", metadata.FileSize).
		Msg("File stored")

	return metadata, nil
}

// VerifyIntegrity re-reads the file's bytes and compares the recomputed hash
// to the stored one. Every status transition is recorded on the provenance chain.
func (s *Service) VerifyIntegrity(ctx context.Context, fileID string) (models.IntegrityStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, ok := s.cache[fileID]
	if !ok {
		return models.IntegrityStatus{State: models.IntegrityUnknown}, fmt.Errorf("file not found: %s", fileID)
	}

	now := time.Now().UTC()

	content, err := os.ReadFile(metadata.AbsolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			metadata.Integrity = models.IntegrityStatus{State: models.IntegrityMissing}
			metadata.IsActive = false
			metadata.Provenance = append(metadata.Provenance, models.ProvenanceStep{
				Timestamp: now,
				Action:    models.ProvCorruptionFound,
				Actor:     "integrity_checker",
				Context:   map[string]string{"reason": "file missing"},
			})
			s.addAuditEntryLocked(models.AuditIntegrityCheck, fileID, "integrity_checker",
				map[string]string{"state": "missing"}, models.ResultFailed("file missing"))
			return metadata.Integrity, nil
		}
		return models.IntegrityStatus{State: models.IntegrityUnknown}, fmt.Errorf("read %s: %w", metadata.AbsolutePath, err)
	}

	actual := calculateHash(content)
	if actual != metadata.FileHash {
		metadata.Integrity = models.IntegrityStatus{State: models.IntegrityCorrupted, Reason: "hash mismatch"}
		metadata.IsActive = false
		metadata.AdminFlagged = true
		metadata.Provenance = append(metadata.Provenance, models.ProvenanceStep{
			Timestamp: now,
			Action:    models.ProvCorruptionFound,
			Actor:     "integrity_checker",
			Context:   map[string]string{"reason": "hash mismatch", "expected": metadata.FileHash, "actual": actual},
		})
		s.addAuditEntryLocked(models.AuditIntegrityCheck, fileID, "integrity_checker",
			map[string]string{"state": "corrupted"}, models.ResultFailed("hash mismatch"))

		s.logger.Warn().
			Str("file_id", fileID).
			Str("path", metadata.RelativePath).
			Msg("Integrity check failed: hash mismatch")

		return metadata.Integrity, nil
	}

	metadata.Integrity = models.IntegrityStatus{State: models.IntegrityValid}
	metadata.LastVerifiedAt = &now
	metadata.Provenance = append(metadata.Provenance, models.ProvenanceStep{
		Timestamp: now,
		Action:    models.ProvIntegrityVerified,
		Actor:     "integrity_checker",
	})
	s.addAuditEntryLocked(models.AuditIntegrityCheck, fileID, "integrity_checker",
		map[string]string{"state": "valid"}, models.ResultSuccess())

	return metadata.Integrity, nil
}

// UpdateExtractionResults records an extraction pass on a stored file.
// A repeat application within the same second must change the method.
func (s *Service) UpdateExtractionResults(ctx context.Context, fileID, method string, structured map[string]interface{}, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadata, ok := s.cache[fileID]
	if !ok {
		return fmt.Errorf("file not found: %s", fileID)
	}

	now := time.Now().UTC()
	if metadata.ExtractedAt != nil &&
		metadata.ExtractionMethod == method &&
		now.Sub(*metadata.ExtractedAt) < time.Second {
		return fmt.Errorf("extraction with method %s already applied at %s", method, metadata.ExtractedAt.Format(time.RFC3339))
	}

	metadata.ExtractionMethod = method
	metadata.ExtractedData = structured
	metadata.ExtractionConfidence = confidence
	metadata.ExtractedAt = &now
	metadata.ModifiedAt = now
	metadata.Provenance = append(metadata.Provenance, models.ProvenanceStep{
		Timestamp: now,
		Action:    models.ProvProcessed,
		Actor:     "extractor",
		SessionID: s.sessionID,
		Context:   map[string]string{"method": method, "confidence": fmt.Sprintf("%.2f", confidence)},
	})
	s.addAuditEntryLocked(models.AuditExtractionUpdated, fileID, "extractor",
		map[string]string{"method": method}, models.ResultSuccess())

	return nil
}

// GetFilesForSiteYear returns copies of active records for a site key and year.
func (s *Service) GetFilesForSiteYear(siteKey string, year int) []*models.FileMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.FileMetadata
	for _, m := range s.cache {
		if m.SiteKey == siteKey && m.Year == year && m.IsActive {
			clone := *m
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// GetFilesRequiringReview lists flagged, corrupted or missing files.
// Admin-flagged files stay accessible here; no other listing filters on the
// flag, so GetFilesForSiteYear still returns flagged files that are active.
func (s *Service) GetFilesRequiringReview() []*models.FileMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.FileMetadata
	for _, m := range s.cache {
		if m.AdminFlagged || m.Integrity.State == models.IntegrityCorrupted || m.Integrity.State == models.IntegrityMissing {
			clone := *m
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// GetFileMetadata returns a copy of a single record.
func (s *Service) GetFileMetadata(fileID string) (*models.FileMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.cache[fileID]
	if !ok {
		return nil, false
	}
	clone := *m
	return &clone, true
}

// GetAuditTrail returns the newest entries, most recent last.
func (s *Service) GetAuditTrail(limit int) []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := s.auditTrail
	if limit > 0 && len(trail) > limit {
		trail = trail[len(trail)-limit:]
	}
	result := make([]models.AuditEntry, len(trail))
	copy(result, trail)
	return result
}

// insertLocked adds a record to cache and hash index. Caller holds mu.
func (s *Service) insertLocked(metadata *models.FileMetadata) {
	s.cache[metadata.ID] = metadata
	s.hashIndex[metadata.FileHash] = append(s.hashIndex[metadata.FileHash], metadata.ID)
}

// findActiveByHashLocked finds the active record for a hash within a site key.
// Caller holds mu.
func (s *Service) findActiveByHashLocked(hash, siteKey string) *models.FileMetadata {
	for _, id := range s.hashIndex[hash] {
		m := s.cache[id]
		if m != nil && m.IsActive && m.SiteKey == siteKey && len(m.DuplicateRefs) == 0 {
			return m
		}
	}
	return nil
}

// addAuditEntryLocked appends to the bounded audit ring. Caller holds mu.
// When the buffer is full the oldest entries are dropped in one batch.
func (s *Service) addAuditEntryLocked(op models.AuditOperation, targetID, actor string, details map[string]string, result models.OperationResult) {
	if len(s.auditTrail) >= auditTrailCap {
		s.auditTrail = s.auditTrail[auditTrailTrim:]
	}
	s.auditTrail = append(s.auditTrail, models.AuditEntry{
		ID:        common.NewAuditID(),
		Timestamp: time.Now().UTC(),
		Operation: op,
		TargetID:  targetID,
		Actor:     actor,
		SessionID: s.sessionID,
		Details:   details,
		Result:    result,
	})
}

func (s *Service) recordStoreFailure(req *interfaces.StoreRequest, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addAuditEntryLocked(models.AuditSystemLog, req.Filename, "source_manager",
		map[string]string{"site_key": req.SiteKey, "url": req.SourceURL}, models.ResultFailed(reason))
}

func (s *Service) persistMirror(ctx context.Context, metadata *models.FileMetadata) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SaveFileMetadata(ctx, metadata); err != nil {
		s.logger.Warn().Err(err).Str("file_id", metadata.ID).Msg("Failed to mirror file metadata")
	}
}

func calculateHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// partial content.
func writeFileAtomic(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
