// -----------------------------------------------------------------------
// Last Modified: Saturday, 1st August 2026 4:55:02 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package reverse

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/services/learning"
)

const (
	defaultBackWindow       = 10  // years before the earliest known
	defaultTestConcurrency  = 5
	defaultCandidateCap     = 100 // per pattern
	recentYearsWindow       = 5
)

// Config bounds a reverse-discovery run.
type Config struct {
	BackWindow      int
	TestConcurrency int64
	CandidateCap    int
	CurrentYear     int
}

// DefaultConfig returns the standard reverse-crawl bounds.
func DefaultConfig() Config {
	return Config{
		BackWindow:      defaultBackWindow,
		TestConcurrency: defaultTestConcurrency,
		CandidateCap:    defaultCandidateCap,
		CurrentYear:     time.Now().Year(),
	}
}

// Crawler discovers historical URLs by reconstruction from known-good
// endpoints: patterns from the learning engine crossed with the year range
// derived from the source manager's confirmed files.
type Crawler struct {
	sources  interfaces.SourceService
	learning *learning.Engine
	fetcher  interfaces.Fetcher
	config   Config
	logger   arbor.ILogger
}

// Compile-time assertion
var _ interfaces.ReverseService = (*Crawler)(nil)

// NewCrawler creates a reverse crawler.
func NewCrawler(sources interfaces.SourceService, learningEngine *learning.Engine, fetcher interfaces.Fetcher, config Config, logger arbor.ILogger) *Crawler {
	if config.TestConcurrency <= 0 {
		config.TestConcurrency = defaultTestConcurrency
	}
	if config.CandidateCap <= 0 {
		config.CandidateCap = defaultCandidateCap
	}
	if config.BackWindow <= 0 {
		config.BackWindow = defaultBackWindow
	}
	if config.CurrentYear == 0 {
		config.CurrentYear = time.Now().Year()
	}
	return &Crawler{
		sources:  sources,
		learning: learningEngine,
		fetcher:  fetcher,
		config:   config,
		logger:   logger,
	}
}

// candidate is one reconstructed URL awaiting a HEAD test.
type candidate struct {
	url        string
	year       int
	confidence float64
	patternID  string
}

// DiscoverHistorical reconstructs and tests historical URLs for a site key.
// knownYears may be empty, in which case the source manager's recent files
// supply the range.
func (c *Crawler) DiscoverHistorical(ctx context.Context, siteKey string, knownYears []int) (*interfaces.ReverseCrawlReport, error) {
	start := time.Now()

	if len(knownYears) == 0 {
		knownYears = c.knownYearsFromSources(siteKey)
	}
	if len(knownYears) == 0 {
		return nil, fmt.Errorf("no known-good years for site key %s", siteKey)
	}
	sort.Ints(knownYears)

	patterns, err := c.learning.GetPatterns(ctx, siteKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns: %w", err)
	}
	temporal, err := c.learning.GetTemporalPatterns(ctx, siteKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read temporal patterns: %w", err)
	}

	earliest := knownYears[0]
	lowBound := earliest - c.config.BackWindow
	highBound := c.config.CurrentYear + 1

	candidates := c.buildCandidates(patterns, lowBound, highBound)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no reconstructable patterns for site key %s", siteKey)
	}

	c.logger.Info().
		Str("site_key", siteKey).
		Int("patterns", len(patterns)).
		Int("temporal_patterns", len(temporal)).
		Int("candidates", len(candidates)).
		Int("year_low", lowBound).
		Int("year_high", highBound).
		Msg("Reverse discovery starting")

	live := c.testCandidates(ctx, candidates)

	downloaded := c.downloadDocuments(ctx, siteKey, live)

	report := &interfaces.ReverseCrawlReport{
		SiteKey:          siteKey,
		CandidatesBuilt:  len(candidates),
		CandidatesTested: len(candidates),
		LiveURLs:         live,
		Duration:         time.Since(start),
	}

	yearSet := make(map[int]bool)
	var liveURLs []string
	for _, d := range live {
		yearSet[d.Year] = true
		liveURLs = append(liveURLs, d.URL)
	}
	for year := range yearSet {
		report.YearsCovered = append(report.YearsCovered, year)
	}
	sort.Ints(report.YearsCovered)

	// Feed discoveries back into the learning engine
	if len(liveURLs) > 0 {
		feedback := &models.CrawlResult{
			SiteKey:        siteKey,
			SuccessfulURLs: liveURLs,
		}
		if err := c.learning.LearnFromSuccess(ctx, feedback); err != nil {
			c.logger.Warn().Err(err).Msg("Learning feedback failed")
		}
	}

	c.logger.Info().
		Str("site_key", siteKey).
		Int("live", len(live)).
		Int("downloaded", downloaded).
		Str("years", fmt.Sprint(report.YearsCovered)).
		Msg("Reverse discovery completed")

	return report, nil
}

// knownYearsFromSources collects years with successful files in ascending
// order, bounded to the recent window.
func (c *Crawler) knownYearsFromSources(siteKey string) []int {
	yearSet := make(map[int]bool)
	for year := c.config.CurrentYear; year > c.config.CurrentYear-recentYearsWindow; year-- {
		if len(c.sources.GetFilesForSiteYear(siteKey, year)) > 0 {
			yearSet[year] = true
		}
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// buildCandidates crosses each year-bearing pattern with each year in range,
// capped per pattern, sorted and deduplicated, newest years first.
func (c *Crawler) buildCandidates(patterns []*models.Pattern, lowBound, highBound int) []candidate {
	seen := make(map[string]bool)
	var result []candidate

	for _, p := range patterns {
		count := 0
		for year := highBound; year >= lowBound && count < c.config.CandidateCap; year-- {
			rendered, ok := learning.SubstituteYear(p, year)
			if !ok {
				break
			}
			if seen[rendered] {
				continue
			}
			seen[rendered] = true
			result = append(result, candidate{
				url:        rendered,
				year:       year,
				confidence: p.EffectiveConfidence(),
				patternID:  p.ID,
			})
			count++
		}
	}

	// Newer years first; equal years keep higher confidence first
	sort.Slice(result, func(i, j int) bool {
		if result[i].year != result[j].year {
			return result[i].year > result[j].year
		}
		return result[i].confidence > result[j].confidence
	})
	return result
}

// testCandidates batch-probes candidates with HEAD requests under the test
// concurrency limit. A candidate is live iff the status is 2xx.
func (c *Crawler) testCandidates(ctx context.Context, candidates []candidate) []interfaces.DiscoveredURL {
	sem := semaphore.NewWeighted(c.config.TestConcurrency)

	var mu sync.Mutex
	var live []interfaces.DiscoveredURL
	var wg sync.WaitGroup

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(cand candidate) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := c.fetcher.Head(ctx, cand.url)
			if err != nil {
				c.logger.Debug().Str("url", cand.url).Err(err).Msg("HEAD probe failed")
				return
			}
			if result.StatusCode < 200 || result.StatusCode >= 300 {
				return
			}

			confidence := cand.confidence
			if extracted := yearFromURL(result.FinalURL); extracted != 0 && extracted == cand.year {
				// Temporal data in the final URL confirms the substitution
				confidence = clip01(confidence + 0.05)
			}

			mu.Lock()
			live = append(live, interfaces.DiscoveredURL{
				URL:         cand.url,
				Year:        cand.year,
				StatusCode:  result.StatusCode,
				Confidence:  confidence,
				ContentType: result.ContentType,
			})
			mu.Unlock()
		}(cand)
	}

	wg.Wait()

	sort.Slice(live, func(i, j int) bool {
		if live[i].Year != live[j].Year {
			return live[i].Year > live[j].Year
		}
		return live[i].URL < live[j].URL
	})
	return live
}

// downloadDocuments fetches live candidates whose content type marks a
// document and stores them through the source manager.
func (c *Crawler) downloadDocuments(ctx context.Context, siteKey string, live []interfaces.DiscoveredURL) int {
	downloaded := 0
	for i := range live {
		if !isDocumentContentType(live[i].ContentType, live[i].URL) {
			continue
		}
		result, err := c.fetcher.Get(ctx, live[i].URL)
		if err != nil || result.StatusCode < 200 || result.StatusCode >= 300 {
			continue
		}

		filename := path.Base(result.FinalURL)
		if filename == "" || filename == "/" || filename == "." {
			filename = fmt.Sprintf("reverse-%d.pdf", live[i].Year)
		}

		_, err = c.sources.Store(ctx, &interfaces.StoreRequest{
			SiteKey:    siteKey,
			Year:       live[i].Year,
			Filename:   filename,
			Content:    result.Body,
			SourceURL:  live[i].URL,
			FinalURL:   result.FinalURL,
			SourceType: "reverse_crawl",
			MimeType:   result.ContentType,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("url", live[i].URL).Msg("Reverse download store failed")
			continue
		}
		live[i].Downloaded = true
		downloaded++
	}
	return downloaded
}

func isDocumentContentType(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "pdf") || strings.Contains(ct, "spreadsheet") ||
		strings.Contains(ct, "ms-excel") || strings.Contains(ct, "msword") ||
		strings.Contains(ct, "officedocument") {
		return true
	}
	ext := strings.ToLower(path.Ext(rawURL))
	return ext == ".pdf" || ext == ".xlsx" || ext == ".xls" || ext == ".csv"
}

func yearFromURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if len(seg) == 4 && strings.HasPrefix(seg, "20") {
			year := 0
			if _, err := fmt.Sscanf(seg, "%d", &year); err == nil && year >= 2000 && year <= 2030 {
				return year
			}
		}
	}
	return 0
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
