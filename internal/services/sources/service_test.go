package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(t.TempDir(), nil, common.GetLogger())
	require.NoError(t, err)
	return s
}

func storeRequest(filename string, content []byte) *interfaces.StoreRequest {
	return &interfaces.StoreRequest{
		SiteKey:    "example-dno",
		Year:       2024,
		Filename:   filename,
		Content:    content,
		SourceURL:  "https://example-dno.de/downloads/" + filename,
		FinalURL:   "https://example-dno.de/downloads/" + filename,
		SourceType: "pdf",
		MimeType:   "application/pdf",
	}
}

func TestStoreWritesFileAndProvenance(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("%PDF-1.4 test")))
	require.NoError(t, err)

	assert.True(t, metadata.IsActive)
	assert.Equal(t, models.IntegrityValid, metadata.Integrity.State)
	assert.FileExists(t, metadata.AbsolutePath)

	// Provenance begins with Discovered, then Downloaded
	require.Len(t, metadata.Provenance, 2)
	assert.Equal(t, models.ProvDiscovered, metadata.Provenance[0].Action)
	assert.Equal(t, models.ProvDownloaded, metadata.Provenance[1].Action)
}

func TestStoreDuplicateBytesCreatesReference(t *testing.T) {
	s := newTestService(t)
	content := []byte("identical bytes")

	first, err := s.Store(context.Background(), storeRequest("a.pdf", content))
	require.NoError(t, err)

	second, err := s.Store(context.Background(), storeRequest("a2.pdf", content))
	require.NoError(t, err)

	// Two metadata records, one file on disk
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.FileHash, second.FileHash)
	assert.Equal(t, []string{first.ID}, second.DuplicateRefs)
	assert.True(t, second.IsActive, "duplicate reference stays active until an explicit dedup pass")

	entries, err := os.ReadDir(filepath.Dir(first.AbsolutePath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Dedup provenance recorded on the reference
	last := second.Provenance[len(second.Provenance)-1]
	assert.Equal(t, models.ProvDeduplicated, last.Action)
}

func TestActiveHashUniqueness(t *testing.T) {
	s := newTestService(t)
	content := []byte("unique active bytes")

	first, err := s.Store(context.Background(), storeRequest("a.pdf", content))
	require.NoError(t, err)
	_, err = s.Store(context.Background(), storeRequest("b.pdf", content))
	require.NoError(t, err)

	// At most one active record per hash that is not a duplicate reference
	s.mu.RLock()
	defer s.mu.RUnlock()
	originals := 0
	for _, m := range s.cache {
		if m.FileHash == first.FileHash && m.IsActive && len(m.DuplicateRefs) == 0 {
			originals++
		}
	}
	assert.Equal(t, 1, originals)
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("original content")))
	require.NoError(t, err)

	// Mutate one byte on disk
	corrupted := []byte("originbl content")
	require.NoError(t, os.WriteFile(metadata.AbsolutePath, corrupted, 0644))

	status, err := s.VerifyIntegrity(context.Background(), metadata.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrityCorrupted, status.State)
	assert.Equal(t, "hash mismatch", status.Reason)

	// Provenance gains a CorruptionDetected step
	updated, ok := s.GetFileMetadata(metadata.ID)
	require.True(t, ok)
	last := updated.Provenance[len(updated.Provenance)-1]
	assert.Equal(t, models.ProvCorruptionFound, last.Action)

	// File appears in the review feed
	review := s.GetFilesRequiringReview()
	require.Len(t, review, 1)
	assert.Equal(t, metadata.ID, review[0].ID)
}

func TestVerifyIntegrityValidUpdatesLastVerified(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("stable content")))
	require.NoError(t, err)

	status, err := s.VerifyIntegrity(context.Background(), metadata.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrityValid, status.State)

	updated, ok := s.GetFileMetadata(metadata.ID)
	require.True(t, ok)
	assert.NotNil(t, updated.LastVerifiedAt)
	last := updated.Provenance[len(updated.Provenance)-1]
	assert.Equal(t, models.ProvIntegrityVerified, last.Action)
}

func TestVerifyIntegrityMissingFile(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("to be removed")))
	require.NoError(t, err)
	require.NoError(t, os.Remove(metadata.AbsolutePath))

	status, err := s.VerifyIntegrity(context.Background(), metadata.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrityMissing, status.State)
}

func TestDeduplicateEmptyStoreIsNoOp(t *testing.T) {
	s := newTestService(t)

	result, err := s.Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesAnalyzed)
	assert.Equal(t, 0, result.DuplicatesFound)
	assert.Equal(t, 0, result.FilesDeduped)
	assert.Equal(t, int64(0), result.BytesSaved)
}

func TestDeduplicateSameSessionKeepsOne(t *testing.T) {
	s := newTestService(t)
	s.SetSession("session_test")
	content := []byte("same session duplicate")

	_, err := s.Store(context.Background(), storeRequest("a.pdf", content))
	require.NoError(t, err)
	_, err = s.Store(context.Background(), storeRequest("b.pdf", content))
	require.NoError(t, err)

	result, err := s.Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeduped)
	assert.Equal(t, int64(len(content)), result.BytesSaved)
}

func TestDeduplicateCrossSessionFlagsForReview(t *testing.T) {
	s := newTestService(t)
	content := []byte("cross session duplicate")

	s.SetSession("session_one")
	_, err := s.Store(context.Background(), storeRequest("a.pdf", content))
	require.NoError(t, err)

	s.SetSession("session_two")
	second, err := s.Store(context.Background(), storeRequest("b.pdf", content))
	require.NoError(t, err)
	// Break the reference so both look like independent active originals
	s.mu.Lock()
	s.cache[second.ID].DuplicateRefs = nil
	s.mu.Unlock()

	result, err := s.Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesDeduped)
	assert.NotEmpty(t, result.ManualReviewIDs)
}

func TestUpdateExtractionResultsAppendsProcessed(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("content")))
	require.NoError(t, err)

	structured := map[string]interface{}{"netzentgelte": "data"}
	require.NoError(t, s.UpdateExtractionResults(context.Background(), metadata.ID, "pdf_analysis", structured, 0.8))

	updated, ok := s.GetFileMetadata(metadata.ID)
	require.True(t, ok)
	assert.Equal(t, "pdf_analysis", updated.ExtractionMethod)
	assert.Equal(t, 0.8, updated.ExtractionConfidence)
	last := updated.Provenance[len(updated.Provenance)-1]
	assert.Equal(t, models.ProvProcessed, last.Action)

	// Same method within the same second is rejected
	err = s.UpdateExtractionResults(context.Background(), metadata.ID, "pdf_analysis", structured, 0.8)
	assert.Error(t, err)

	// A different method is fine
	assert.NoError(t, s.UpdateExtractionResults(context.Background(), metadata.ID, "ocr", structured, 0.4))
}

func TestScanOnStartReconstructsMetadata(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "dno-data", "example-dno", "2023")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tariff.pdf"), []byte("%PDF scanned"), 0644))

	s, err := NewService(base, nil, common.GetLogger())
	require.NoError(t, err)

	files := s.GetFilesForSiteYear("example-dno", 2023)
	require.Len(t, files, 1)
	assert.Equal(t, "unknown", files[0].SourceURL)
	assert.Equal(t, models.IntegrityUnknown, files[0].Integrity.State)
	assert.NotEmpty(t, files[0].FileHash)
	require.NotEmpty(t, files[0].Provenance)
	assert.Equal(t, models.ProvDiscovered, files[0].Provenance[0].Action)
	assert.Equal(t, scannerActor, files[0].Provenance[0].Actor)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestService(t)

	_, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("export me")))
	require.NoError(t, err)
	_, err = s.Store(context.Background(), storeRequest("b.pdf", []byte("me too")))
	require.NoError(t, err)

	exported, err := s.ExportMetadata()
	require.NoError(t, err)

	// Import into a fresh manager
	restored, err := NewService(t.TempDir(), nil, common.GetLogger())
	require.NoError(t, err)
	require.NoError(t, restored.ImportMetadata(exported))

	original := s.GetFilesForSiteYear("example-dno", 2024)
	roundTripped := restored.GetFilesForSiteYear("example-dno", 2024)
	require.Len(t, roundTripped, len(original))

	byID := func(files []*models.FileMetadata) map[string]*models.FileMetadata {
		m := make(map[string]*models.FileMetadata)
		for _, f := range files {
			m[f.ID] = f
		}
		return m
	}
	origMap, restMap := byID(original), byID(roundTripped)
	for id, orig := range origMap {
		rest, ok := restMap[id]
		require.True(t, ok, "record %s missing after round trip", id)
		if diff := cmp.Diff(orig, rest); diff != "" {
			t.Errorf("round trip mismatch for %s (-want +got):\n%s", id, diff)
		}
	}
}

func TestAdminReviewDecisions(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("review me")))
	require.NoError(t, err)

	result, err := s.Review(metadata.ID, models.AdminDecision{Kind: models.DecisionApproved}, "admin", "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, result.NewStatus)

	updated, _ := s.GetFileMetadata(metadata.ID)
	assert.False(t, updated.AdminFlagged)
	assert.Equal(t, models.VerificationVerified, updated.Verification)

	// Rejection deactivates
	second, err := s.Store(context.Background(), storeRequest("b.pdf", []byte("reject me")))
	require.NoError(t, err)
	_, err = s.Review(second.ID, models.AdminDecision{Kind: models.DecisionRejected, Reason: "wrong document"}, "admin", "")
	require.NoError(t, err)

	updated, _ = s.GetFileMetadata(second.ID)
	assert.False(t, updated.IsActive)
	assert.Equal(t, models.VerificationRejected, updated.Verification)
}

func TestProvenanceChainIsTimeOrdered(t *testing.T) {
	s := newTestService(t)

	metadata, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("ordered")))
	require.NoError(t, err)
	_, err = s.VerifyIntegrity(context.Background(), metadata.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateExtractionResults(context.Background(), metadata.ID, "pdf_analysis", map[string]interface{}{"x": 1}, 0.7))

	updated, _ := s.GetFileMetadata(metadata.ID)
	for i := 1; i < len(updated.Provenance); i++ {
		assert.False(t, updated.Provenance[i].Timestamp.Before(updated.Provenance[i-1].Timestamp),
			"provenance step %d precedes step %d", i, i-1)
	}
	assert.Equal(t, models.ProvDiscovered, updated.Provenance[0].Action)
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	s := newTestService(t)

	_, err := s.Store(context.Background(), storeRequest("a.pdf", []byte("audited")))
	require.NoError(t, err)

	trail := s.GetAuditTrail(10)
	require.NotEmpty(t, trail)
	assert.Equal(t, models.AuditFileCreated, trail[len(trail)-1].Operation)
}
