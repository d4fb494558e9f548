package models

import (
	"time"
)

// PatternKind is the closed set of learned-regularity kinds.
type PatternKind string

const (
	PatternKindURL        PatternKind = "url"
	PatternKindNavigation PatternKind = "navigation"
	PatternKindContent    PatternKind = "content"
	PatternKindFileNaming PatternKind = "file_naming"
	PatternKindStructural PatternKind = "structural"
)

// VerificationStatus is the administrator-review state of a pattern or file.
type VerificationStatus string

const (
	VerificationNotReviewed VerificationStatus = "not_reviewed"
	VerificationVerified    VerificationStatus = "verified"
	VerificationRejected    VerificationStatus = "rejected"
)

// VariableKind classifies a template slot in a URL pattern.
type VariableKind string

const (
	VariableYear   VariableKind = "year"
	VariableMonth  VariableKind = "month"
	VariableOpaque VariableKind = "opaque"
)

// PatternVariable is one substitutable slot in a URL template.
type PatternVariable struct {
	Name     string       `json:"name"`
	Kind     VariableKind `json:"kind"`
	Position int          `json:"position"` // path segment index
	Examples []string     `json:"examples,omitempty"`
}

// Pattern is a learned regularity usable to reconstruct URLs, filenames or
// navigation paths. Confidence is recomputed on every success/failure event
// and always stays in [0, 1]. Admin-verified patterns floor at 0.95 for
// recommendation purposes and are never auto-deprecated.
type Pattern struct {
	ID            string             `json:"id" badgerhold:"key"`
	SiteKey       string             `json:"site_key"`
	Kind          PatternKind        `json:"kind"`
	Template      string             `json:"template"`
	Regex         string             `json:"regex,omitempty"`
	Variables     []PatternVariable  `json:"variables,omitempty"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	Confidence    float64            `json:"confidence"`
	SuccessCount  int                `json:"success_count"`
	FailureCount  int                `json:"failure_count"`
	LastSuccessAt *time.Time         `json:"last_success_at,omitempty"`
	Verification  VerificationStatus `json:"verification"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// EffectiveConfidence applies the admin-verified floor.
func (p *Pattern) EffectiveConfidence() float64 {
	if p.Verification == VerificationVerified && p.Confidence < 0.95 {
		return 0.95
	}
	return p.Confidence
}

// TemporalPatternKind classifies time-bearing URL fragments.
type TemporalPatternKind string

const (
	TemporalYear    TemporalPatternKind = "year"
	TemporalMonth   TemporalPatternKind = "month"
	TemporalDate    TemporalPatternKind = "date"
	TemporalQuarter TemporalPatternKind = "quarter"
	TemporalArchive TemporalPatternKind = "archive"
	TemporalVersion TemporalPatternKind = "version"
)

// TemporalPattern is a pattern whose variable is time-bearing.
type TemporalPattern struct {
	ID             string              `json:"id" badgerhold:"key"`
	SiteKey        string              `json:"site_key"`
	Kind           TemporalPatternKind `json:"kind"`
	Regex          string              `json:"regex"`
	Format         string              `json:"format"` // reconstruction template, e.g. "%d" or "%04d-%02d"
	ExampleMatches []string            `json:"example_matches,omitempty"`
	Confidence     float64             `json:"confidence"`
	MatchCount     int                 `json:"match_count"`
	CreatedAt      time.Time           `json:"created_at"`
}

// TemporalOrganization labels how a site organizes historical artifacts.
type TemporalOrganization string

const (
	OrgByYear      TemporalOrganization = "by_year"
	OrgByYearMonth TemporalOrganization = "by_year_month"
	OrgByDate      TemporalOrganization = "by_date"
	OrgByQuarter   TemporalOrganization = "by_quarter"
	OrgByVersion   TemporalOrganization = "by_version"
	OrgNone        TemporalOrganization = "none"
)

// ArchiveStructure models how a host lays out its historical documents.
type ArchiveStructure struct {
	ID               string               `json:"id" badgerhold:"key"`
	SiteKey          string               `json:"site_key"`
	Host             string               `json:"host"`
	CommonPrefix     string               `json:"common_prefix"`
	DirectoryPaths   []string             `json:"directory_paths"`
	FilenamePatterns []string             `json:"filename_patterns,omitempty"`
	Organization     TemporalOrganization `json:"organization"`
	CreatedAt        time.Time            `json:"created_at"`
}

// StrategyRecommendation is the learning engine's answer to
// "how should this site-key/year be crawled".
type StrategyRecommendation struct {
	Mode       CrawlMode `json:"mode"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
}
