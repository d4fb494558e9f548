package sources

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/models"
)

// scanExistingFiles walks <base>/dno-data and reconstructs metadata for every
// file found, hashing eagerly. Source URLs are unknown for scanned files and
// integrity starts at Unknown; the provenance chain begins with a Discovered
// step attributed to the file scanner.
func (s *Service) scanExistingFiles() error {
	dataDir := filepath.Join(s.baseDir, dataDirName)

	count := 0
	err := filepath.WalkDir(dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		metadata, err := s.reconstructFileMetadata(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable file during scan")
			return nil
		}
		s.mu.Lock()
		s.insertLocked(metadata)
		s.mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		return err
	}

	if count > 0 {
		s.mu.Lock()
		s.addAuditEntryLocked(models.AuditScan, dataDir, scannerActor,
			map[string]string{"files": fmt.Sprintf("%d", count)}, models.ResultSuccess())
		s.mu.Unlock()
	}

	return nil
}

// reconstructFileMetadata rebuilds a record from an on-disk file.
// Path shape is <base>/dno-data/<site-key>/<year>/<filename>; files outside
// that shape get an empty site key and year 0.
func (s *Service) reconstructFileMetadata(path string) (*models.FileMetadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(s.baseDir, path)
	if err != nil {
		relPath = path
	}

	siteKey, year := parseSitePath(relPath)
	now := time.Now().UTC()

	return &models.FileMetadata{
		ID:           common.NewFileID(),
		SiteKey:      siteKey,
		Year:         year,
		RelativePath: relPath,
		AbsolutePath: path,
		FileHash:     calculateHash(content),
		FileSize:     info.Size(),
		MimeType:     guessMimeType(path),
		SourceURL:    "unknown",
		FinalURL:     "unknown",
		SourceType:   "scanned",
		CreatedAt:    info.ModTime().UTC(),
		ModifiedAt:   now,
		IsActive:     true,
		Verification: models.VerificationNotReviewed,
		Integrity:    models.IntegrityStatus{State: models.IntegrityUnknown},
		Provenance: []models.ProvenanceStep{
			{
				Timestamp: now,
				Action:    models.ProvDiscovered,
				Actor:     scannerActor,
				Context:   map[string]string{"path": relPath},
			},
		},
	}, nil
}

// parseSitePath extracts (site key, year) from "dno-data/<key>/<year>/<file>".
func parseSitePath(relPath string) (string, int) {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) < 4 || parts[0] != dataDirName {
		return "", 0
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return parts[1], 0
	}
	return parts[1], year
}

func guessMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".xlsx", ".xls":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".html", ".htm":
		return "text/html"
	}
	return "application/octet-stream"
}
