package reverse

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/services/learning"
	"github.com/ternarybob/graben/internal/services/sources"
)

// yearFetcher answers HEAD/GET by year: only liveYears respond 200.
type yearFetcher struct {
	liveYears map[int]bool

	mu     sync.Mutex
	probed []string
}

func (f *yearFetcher) respond(rawURL string) *interfaces.FetchResult {
	for year := 2000; year <= 2030; year++ {
		if strings.Contains(rawURL, fmt.Sprintf("%d", year)) {
			if f.liveYears[year] {
				return &interfaces.FetchResult{
					URL: rawURL, FinalURL: rawURL,
					StatusCode:  http.StatusOK,
					ContentType: "application/pdf",
				}
			}
			break
		}
	}
	return &interfaces.FetchResult{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusNotFound}
}

func (f *yearFetcher) Head(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	f.mu.Lock()
	f.probed = append(f.probed, rawURL)
	f.mu.Unlock()
	return f.respond(rawURL), nil
}

func (f *yearFetcher) Get(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	result := f.respond(rawURL)
	if result.StatusCode == http.StatusOK {
		result.Body = []byte("%PDF-1.4 " + rawURL)
	}
	return result, nil
}

func seedEngine(t *testing.T) *learning.Engine {
	t.Helper()
	engine := learning.NewEngine(nil, common.GetLogger())
	// Two known-good years establish the {year} template
	require.NoError(t, engine.LearnFromSuccess(context.Background(), &models.CrawlResult{
		SiteKey: "example-dno",
		SuccessfulURLs: []string{
			"https://example-dno.de/downloads/2022/netzentgelte.pdf",
			"https://example-dno.de/downloads/2023/netzentgelte.pdf",
		},
	}))
	return engine
}

func newTestCrawler(t *testing.T, fetcher interfaces.Fetcher, engine *learning.Engine, currentYear int) *Crawler {
	t.Helper()
	src, err := sources.NewService(t.TempDir(), nil, common.GetLogger())
	require.NoError(t, err)

	config := DefaultConfig()
	config.CurrentYear = currentYear
	return NewCrawler(src, engine, fetcher, config, common.GetLogger())
}

func TestDiscoverHistoricalFindsKnownYears(t *testing.T) {
	fetcher := &yearFetcher{liveYears: map[int]bool{2022: true, 2023: true}}
	crawler := newTestCrawler(t, fetcher, seedEngine(t), 2023)

	report, err := crawler.DiscoverHistorical(context.Background(), "example-dno", []int{2022, 2023})
	require.NoError(t, err)

	assert.Greater(t, report.CandidatesBuilt, 0)
	assert.Contains(t, report.YearsCovered, 2022)
	assert.Contains(t, report.YearsCovered, 2023)

	for _, d := range report.LiveURLs {
		assert.GreaterOrEqual(t, d.StatusCode, 200)
		assert.Less(t, d.StatusCode, 300)
	}
}

func TestDiscoverHistoricalYearBounds(t *testing.T) {
	fetcher := &yearFetcher{liveYears: map[int]bool{}}
	crawler := newTestCrawler(t, fetcher, seedEngine(t), 2023)

	_, err := crawler.DiscoverHistorical(context.Background(), "example-dno", []int{2022, 2023})
	require.NoError(t, err)

	// HEAD requests cover [earliest-10, current+1] and nothing outside
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.NotEmpty(t, fetcher.probed)
	for _, u := range fetcher.probed {
		assert.NotContains(t, u, "/2011/", "below the back window")
		assert.NotContains(t, u, "/2025/", "beyond current year + 1")
	}
}

func TestCandidatesTestedNewestFirst(t *testing.T) {
	fetcher := &yearFetcher{liveYears: map[int]bool{}}
	crawler := newTestCrawler(t, fetcher, seedEngine(t), 2023)

	_, err := crawler.DiscoverHistorical(context.Background(), "example-dno", []int{2022, 2023})
	require.NoError(t, err)

	patterns, _ := seedEngine(t).GetPatterns(context.Background(), "example-dno")
	require.NotEmpty(t, patterns)

	candidates := crawler.buildCandidates(patterns, 2012, 2024)
	require.NotEmpty(t, candidates)
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].year, candidates[i].year, "candidates ordered by year descending")
	}
}

func TestCandidateCapPerPattern(t *testing.T) {
	engine := seedEngine(t)
	patterns, _ := engine.GetPatterns(context.Background(), "example-dno")
	require.NotEmpty(t, patterns)

	crawler := newTestCrawler(t, &yearFetcher{liveYears: map[int]bool{}}, engine, 2023)
	crawler.config.CandidateCap = 3

	candidates := crawler.buildCandidates(patterns, 2000, 2024)
	perPattern := make(map[string]int)
	for _, c := range candidates {
		perPattern[c.patternID]++
	}
	for id, count := range perPattern {
		assert.LessOrEqual(t, count, 3, "pattern %s exceeds candidate cap", id)
	}
}

func TestLiveDocumentsAreDownloaded(t *testing.T) {
	fetcher := &yearFetcher{liveYears: map[int]bool{2023: true}}
	engine := seedEngine(t)

	src, err := sources.NewService(t.TempDir(), nil, common.GetLogger())
	require.NoError(t, err)
	config := DefaultConfig()
	config.CurrentYear = 2023
	crawler := NewCrawler(src, engine, fetcher, config, common.GetLogger())

	report, err := crawler.DiscoverHistorical(context.Background(), "example-dno", []int{2023})
	require.NoError(t, err)

	downloaded := 0
	for _, d := range report.LiveURLs {
		if d.Downloaded {
			downloaded++
		}
	}
	require.Greater(t, downloaded, 0)

	stored := src.GetFilesForSiteYear("example-dno", 2023)
	assert.NotEmpty(t, stored, "live PDF candidates land in the source manager")
}

func TestNoPatternsYieldsError(t *testing.T) {
	engine := learning.NewEngine(nil, common.GetLogger())
	crawler := newTestCrawler(t, &yearFetcher{liveYears: map[int]bool{}}, engine, 2023)

	_, err := crawler.DiscoverHistorical(context.Background(), "example-dno", []int{2023})
	assert.Error(t, err)
}
