package models

import (
	"time"
)

// ContentType classifies a fetched resource for extraction dispatch.
type ContentType string

const (
	ContentTypeHTMLTable ContentType = "html_table"
	ContentTypePDF       ContentType = "pdf"
	ContentTypeImage     ContentType = "image"
	ContentTypeJSON      ContentType = "json"
	ContentTypeXML       ContentType = "xml"
	ContentTypeCSV       ContentType = "csv"
	ContentTypeExcel     ContentType = "excel"
	ContentTypeUnknown   ContentType = "unknown"
)

// BaselineConfidence returns the extraction-confidence floor per content type.
// Component-specific penalties may reduce it; they never raise it above 1.
func (c ContentType) BaselineConfidence() float64 {
	switch c {
	case ContentTypeJSON:
		return 0.95
	case ContentTypeCSV, ContentTypeHTMLTable:
		return 0.9
	case ContentTypeExcel:
		return 0.85
	case ContentTypeXML:
		return 0.8
	case ContentTypePDF:
		return 0.7
	case ContentTypeImage:
		return 0.3
	}
	return 0.0
}

// IsDocument reports whether the content type is a downloadable artifact
// (rather than a navigable page).
func (c ContentType) IsDocument() bool {
	switch c {
	case ContentTypePDF, ContentTypeExcel, ContentTypeCSV, ContentTypeImage:
		return true
	}
	return false
}

// CrawlModeKind is the closed set of crawl strategies.
type CrawlModeKind string

const (
	ModeDiscovery CrawlModeKind = "discovery"
	ModeTargeted  CrawlModeKind = "targeted"
	ModeReverse   CrawlModeKind = "reverse"
	ModeHybrid    CrawlModeKind = "hybrid"
)

// CrawlMode selects and parameterizes a crawl strategy.
// Exactly the fields for Kind are meaningful; the rest stay zero.
type CrawlMode struct {
	Kind CrawlModeKind `json:"kind"`

	// Discovery
	MaxDepth int           `json:"max_depth,omitempty"`
	Budget   time.Duration `json:"budget,omitempty"`

	// Targeted
	Patterns  []Pattern `json:"patterns,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`

	// Reverse
	Path               []NavigationStep `json:"path,omitempty"`
	VerificationPoints []int            `json:"verification_points,omitempty"`

	// Hybrid
	Primary   *CrawlMode  `json:"primary,omitempty"`
	Fallbacks []CrawlMode `json:"fallbacks,omitempty"`
}

// DiscoveryMode builds a Discovery strategy.
func DiscoveryMode(maxDepth int, budget time.Duration) CrawlMode {
	return CrawlMode{Kind: ModeDiscovery, MaxDepth: maxDepth, Budget: budget}
}

// TargetedMode builds a Targeted strategy.
func TargetedMode(patterns []Pattern, threshold float64) CrawlMode {
	return CrawlMode{Kind: ModeTargeted, Patterns: patterns, Threshold: threshold}
}

// HybridMode builds a Hybrid strategy with a primary and ordered fallbacks.
func HybridMode(primary CrawlMode, fallbacks ...CrawlMode) CrawlMode {
	return CrawlMode{Kind: ModeHybrid, Primary: &primary, Fallbacks: fallbacks}
}

// NavigationStrategy is the closed set of link-selector families the
// navigator dispatches on.
type NavigationStrategy string

const (
	NavBreadcrumb         NavigationStrategy = "breadcrumb"
	NavPagination         NavigationStrategy = "pagination"
	NavMenuTraversal      NavigationStrategy = "menu_traversal"
	NavArchiveExploration NavigationStrategy = "archive_exploration"
	NavSearchDriven       NavigationStrategy = "search_driven"
	NavFormSubmission     NavigationStrategy = "form_submission"
)

// NavigationStep records one move through a site.
type NavigationStep struct {
	StepType  NavigationStrategy `json:"step_type"`
	URL       string             `json:"url"`
	Action    string             `json:"action,omitempty"`
	Selector  string             `json:"selector,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// DownloadedFile records an artifact a worker handed to the source manager.
type DownloadedFile struct {
	URL               string      `json:"url"`
	StoragePath       string      `json:"storage_path"`
	FileID            string      `json:"file_id"`
	ContentType       ContentType `json:"content_type"`
	Size              int64       `json:"size"`
	Hash              string      `json:"hash"`
	ExtractionSuccess bool        `json:"extraction_success"`
}

// CrawlResult is the terminal output of a worker.
type CrawlResult struct {
	SessionID         string                 `json:"session_id"`
	SiteKey           string                 `json:"site_key"`
	Year              int                    `json:"year"`
	SuccessfulURLs    []string               `json:"successful_urls"`
	NavigationHistory []NavigationStep       `json:"navigation_history"`
	DownloadedFiles   []DownloadedFile       `json:"downloaded_files"`
	StructuredData    map[string]interface{} `json:"structured_data"`
	FailureReasons    map[string]string      `json:"failure_reasons,omitempty"` // url -> reason
	Duration          time.Duration          `json:"duration"`
	MaxDepthReached   int                    `json:"max_depth_reached"`
	SuccessConfidence float64                `json:"success_confidence"`
}

// ExtractedContent is the per-URL extraction record.
type ExtractedContent struct {
	URL            string                 `json:"url"`
	ContentType    ContentType            `json:"content_type"`
	RawData        []byte                 `json:"-"`
	StructuredData map[string]interface{} `json:"structured_data"`
	Confidence     float64                `json:"confidence"`
	Method         string                 `json:"method"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
}

// RecordCount estimates the number of extracted records for session counters.
func (e *ExtractedContent) RecordCount() int {
	if e == nil || e.StructuredData == nil {
		return 0
	}
	count := 0
	for _, v := range e.StructuredData {
		switch vv := v.(type) {
		case []interface{}:
			count += len(vv)
		default:
			count++
		}
	}
	return count
}
