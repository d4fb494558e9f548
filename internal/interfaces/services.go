package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/graben/internal/models"
)

// LearningService maintains the pattern catalog and recommends strategies.
type LearningService interface {
	LearnFromSuccess(ctx context.Context, result *models.CrawlResult) error
	LearnFromFailure(ctx context.Context, siteKey string, patternIDs []string, reason string) error
	RecommendStrategy(ctx context.Context, siteKey string, year int) (*models.StrategyRecommendation, error)
	GetPatterns(ctx context.Context, siteKey string) ([]*models.Pattern, error)
	GetTemporalPatterns(ctx context.Context, siteKey string) ([]*models.TemporalPattern, error)
	GetArchiveStructures(ctx context.Context, siteKey string) ([]*models.ArchiveStructure, error)
	VerifyPattern(ctx context.Context, patternID string, status models.VerificationStatus) error
}

// ExtractorService turns a fetched resource into an ExtractedContent.
type ExtractorService interface {
	Extract(ctx context.Context, url string, contentType models.ContentType) (*models.ExtractedContent, error)
	ExtractFromBytes(ctx context.Context, url string, contentType models.ContentType, body []byte) (*models.ExtractedContent, error)
}

// ContentRecognizer classifies a fetched resource.
// Recognition order: URL extension, Content-Type header, content sniffing.
type ContentRecognizer interface {
	Recognize(url string, content []byte, headers map[string]string) models.ContentType
}

// SourceService is the content-addressed artifact store.
type SourceService interface {
	Store(ctx context.Context, req *StoreRequest) (*models.FileMetadata, error)
	VerifyIntegrity(ctx context.Context, fileID string) (models.IntegrityStatus, error)
	UpdateExtractionResults(ctx context.Context, fileID, method string, structured map[string]interface{}, confidence float64) error
	Deduplicate(ctx context.Context) (*models.DeduplicationResult, error)
	GetFilesForSiteYear(siteKey string, year int) []*models.FileMetadata
	GetFilesRequiringReview() []*models.FileMetadata
	GetFileMetadata(fileID string) (*models.FileMetadata, bool)
	GetAuditTrail(limit int) []models.AuditEntry
	ExportMetadata() ([]byte, error)
	ImportMetadata(data []byte) error
	SetSession(sessionID string)
}

// StoreRequest carries one artifact into the source manager.
type StoreRequest struct {
	SiteKey    string
	Year       int
	Filename   string
	Content    []byte
	SourceURL  string
	FinalURL   string
	SourceType string
	MimeType   string
}

// CrawlerService executes one job's crawl strategy.
type CrawlerService interface {
	Crawl(ctx context.Context, job *models.Job, mode models.CrawlMode, progress ProgressSink) (*models.CrawlResult, error)
}

// ProgressSink receives worker updates at suspension points. The
// orchestrator's session table is only ever written through this.
type ProgressSink interface {
	Update(update models.ProgressUpdate)
	Log(sessionID, level, phase, message string)
}

// ReverseService discovers historical URLs by reconstruction.
type ReverseService interface {
	DiscoverHistorical(ctx context.Context, siteKey string, knownYears []int) (*ReverseCrawlReport, error)
}

// ReverseCrawlReport summarizes a reverse-discovery run.
type ReverseCrawlReport struct {
	SiteKey          string                    `json:"site_key"`
	CandidatesBuilt  int                       `json:"candidates_built"`
	CandidatesTested int                       `json:"candidates_tested"`
	LiveURLs         []DiscoveredURL           `json:"live_urls"`
	YearsCovered     []int                     `json:"years_covered"`
	Archives         []models.ArchiveStructure `json:"archives,omitempty"`
	Duration         time.Duration             `json:"duration"`
}

// DiscoveredURL is one live candidate found by the reverse crawler.
type DiscoveredURL struct {
	URL         string  `json:"url"`
	Year        int     `json:"year"`
	StatusCode  int     `json:"status_code"`
	Confidence  float64 `json:"confidence"`
	ContentType string  `json:"content_type,omitempty"`
	Downloaded  bool    `json:"downloaded"`
}

// SchedulerService releases scheduled jobs and runs periodic maintenance.
type SchedulerService interface {
	Start() error
	Stop() error
	RegisterJob(name, schedule, description string, handler func() error) error
}
