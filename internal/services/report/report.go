package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/services/sources"
)

// Service renders admin reports over the source manager's state.
type Service struct {
	sources *sources.Service
	logger  arbor.ILogger
}

// NewService creates a report service.
func NewService(src *sources.Service, logger arbor.ILogger) *Service {
	return &Service{
		sources: src,
		logger:  logger,
	}
}

// AuditReportMarkdown builds the audit report for the trailing day window.
func (s *Service) AuditReportMarkdown(days int) string {
	entries := s.sources.AuditReport(days)
	stats := s.sources.Statistics()

	var b strings.Builder
	fmt.Fprintf(&b, "# Source Audit Report\n\n")
	fmt.Fprintf(&b, "Generated: %s  \n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Window: last %d day(s)\n\n", days)

	fmt.Fprintf(&b, "## File statistics\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total files | %d |\n", stats.TotalFiles)
	fmt.Fprintf(&b, "| Active files | %d |\n", stats.ActiveFiles)
	fmt.Fprintf(&b, "| Verified files | %d |\n", stats.VerifiedFiles)
	fmt.Fprintf(&b, "| Flagged files | %d |\n", stats.FlaggedFiles)
	fmt.Fprintf(&b, "| Total bytes | %d |\n\n", stats.TotalBytes)

	if len(stats.FilesBySite) > 0 {
		fmt.Fprintf(&b, "## Files by site\n\n| Site | Files |\n|---|---|\n")
		keys := make([]string, 0, len(stats.FilesBySite))
		for k := range stats.FilesBySite {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "| %s | %d |\n", k, stats.FilesBySite[k])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Audit trail (%d entries)\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- `%s` **%s** %s (%s) - %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Operation,
			e.TargetID,
			e.Actor,
			e.Result.Status)
	}

	return b.String()
}

// AuditReportPDF renders the audit report to PDF bytes.
func (s *Service) AuditReportPDF(days int) ([]byte, error) {
	markdown := s.AuditReportMarkdown(days)
	title := fmt.Sprintf("Source Audit Report (%d days)", days)
	return ConvertMarkdownToPDF(markdown, title, s.logger)
}
