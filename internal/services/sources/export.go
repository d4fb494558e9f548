package sources

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/models"
)

const exportFormatVersion = "1.0"

// metadataExport is the export/import wire document.
type metadataExport struct {
	Files           []models.FileMetadata `json:"files"`
	AuditTrail      []models.AuditEntry   `json:"audit_trail"`
	ExportTimestamp time.Time             `json:"export_timestamp"`
	Version         string                `json:"version"`
}

// ExportMetadata serializes every file record plus the audit trail.
// import(export(x)) is identity on the file record set.
func (s *Service) ExportMetadata() ([]byte, error) {
	s.mu.RLock()

	doc := metadataExport{
		Files:           make([]models.FileMetadata, 0, len(s.cache)),
		AuditTrail:      make([]models.AuditEntry, len(s.auditTrail)),
		ExportTimestamp: time.Now().UTC(),
		Version:         exportFormatVersion,
	}
	for _, m := range s.cache {
		doc.Files = append(doc.Files, *m)
	}
	copy(doc.AuditTrail, s.auditTrail)
	s.mu.RUnlock()

	sort.Slice(doc.Files, func(i, j int) bool { return doc.Files[i].ID < doc.Files[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata export: %w", err)
	}

	s.mu.Lock()
	s.addAuditEntryLocked(models.AuditExport, "metadata", "source_manager",
		map[string]string{"files": fmt.Sprintf("%d", len(doc.Files))}, models.ResultSuccess())
	s.mu.Unlock()

	return data, nil
}

// ImportMetadata merges an exported document into the cache, upserting by
// record id. Audit entries are appended, not deduplicated.
func (s *Service) ImportMetadata(data []byte) error {
	var doc metadataExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse metadata import: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imported := 0
	for i := range doc.Files {
		record := doc.Files[i]
		if record.ID == "" {
			record.ID = common.NewFileID()
		}
		if existing, ok := s.cache[record.ID]; ok {
			// Upsert: drop the old hash-index slot before replacing
			s.removeFromHashIndexLocked(existing)
		}
		clone := record
		s.insertLocked(&clone)
		imported++
	}

	for _, entry := range doc.AuditTrail {
		if len(s.auditTrail) >= auditTrailCap {
			s.auditTrail = s.auditTrail[auditTrailTrim:]
		}
		s.auditTrail = append(s.auditTrail, entry)
	}

	s.addAuditEntryLocked(models.AuditImport, "metadata", "source_manager",
		map[string]string{"files": fmt.Sprintf("%d", imported), "version": doc.Version},
		models.ResultSuccess())

	s.logger.Info().Int("files", imported).Msg("Metadata import completed")

	return nil
}

func (s *Service) removeFromHashIndexLocked(metadata *models.FileMetadata) {
	ids := s.hashIndex[metadata.FileHash]
	for i, id := range ids {
		if id == metadata.ID {
			s.hashIndex[metadata.FileHash] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}
