package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/services/extractor"
	"github.com/ternarybob/graben/internal/services/recovery"
	"github.com/ternarybob/graben/internal/services/search"
	"github.com/ternarybob/graben/internal/services/sources"
)

// fakeFetcher serves canned responses from a URL map.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakePage
	gets  []string
}

type fakePage struct {
	status      int
	contentType string
	body        []byte
}

func (f *fakeFetcher) Get(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	f.mu.Lock()
	f.gets = append(f.gets, rawURL)
	page, ok := f.pages[rawURL]
	f.mu.Unlock()

	if !ok {
		return &interfaces.FetchResult{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusNotFound}, nil
	}
	return &interfaces.FetchResult{
		URL:         rawURL,
		FinalURL:    rawURL,
		StatusCode:  page.status,
		Body:        page.body,
		ContentType: page.contentType,
	}, nil
}

func (f *fakeFetcher) Head(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	result, err := f.Get(ctx, rawURL)
	if result != nil {
		result.Body = nil
	}
	return result, err
}

// stubAnalyzer avoids pdfcpu in crawler tests.
type stubAnalyzer struct{}

func (s *stubAnalyzer) Analyze(ctx context.Context, pdfPath string) (models.PDFAnalysis, error) {
	return models.PDFAnalysis{
		StructuredData: map[string]interface{}{"netzentgelte": map[string]interface{}{"MS": "58,12"}},
		Confidence:     0.75,
		Model:          "stub",
		PageCount:      1,
		Parsed:         true,
	}, nil
}

// nullSink discards progress updates.
type nullSink struct {
	mu      sync.Mutex
	updates []models.ProgressUpdate
}

func (n *nullSink) Update(update models.ProgressUpdate) {
	n.mu.Lock()
	n.updates = append(n.updates, update)
	n.mu.Unlock()
}

func (n *nullSink) Log(sessionID, level, phase, message string) {}

func newTestCrawler(t *testing.T, fetcher interfaces.Fetcher) (*Service, *sources.Service) {
	t.Helper()
	logger := common.GetLogger()

	sourceService, err := sources.NewService(t.TempDir(), nil, logger)
	require.NoError(t, err)

	recognizer := extractor.NewRecognizer()
	extractorService := extractor.NewService(fetcher, recognizer, &stubAnalyzer{},
		extractor.NewOfflineOCR(), extractor.NewExcelParser(), logger)

	crawlerService := NewService(fetcher, recognizer, extractorService,
		recovery.NewEngine(logger), sourceService, search.NewMockSearchService(), logger)

	return crawlerService, sourceService
}

func discoveryJob(siteKey string) *models.Job {
	constraints := models.DefaultConstraints()
	constraints.AllowedDomains = []string{siteKey + ".de"}
	constraints.RequestDelay = 0
	return &models.Job{
		ID:          "job_test",
		SessionID:   "session_test",
		SiteKey:     siteKey,
		Year:        2024,
		Priority:    models.PriorityMedium,
		Origin:      models.OriginUserRequest,
		Status:      models.JobStatusCrawling,
		Constraints: constraints,
		MaxRetries:  1,
	}
}

func fixtureSite() map[string]fakePage {
	home := `<html><body>
		<nav><a href="/netzentgelte">Netzentgelte</a></nav>
		<a href="/archiv/2024">Archiv 2024</a>
	</body></html>`
	netzentgelte := `<html><body>
		<table><tr><th>Ebene</th><th>Preis</th></tr><tr><td>MS</td><td>58,12</td></tr></table>
		<a href="/downloads/netzentgelte-2024.pdf">Preisblatt (PDF)</a>
	</body></html>`
	archive := `<html><body>
		<a href="/downloads/netzentgelte-2024.pdf">download</a>
	</body></html>`

	return map[string]fakePage{
		"https://example-dno.de":              {200, "text/html", []byte(home)},
		"https://example-dno.de/netzentgelte": {200, "text/html", []byte(netzentgelte)},
		"https://example-dno.de/archiv/2024":  {200, "text/html", []byte(archive)},
		"https://example-dno.de/downloads/netzentgelte-2024.pdf": {200, "application/pdf", []byte("%PDF-1.4 fixture")},
	}
}

func TestDiscoveryCrawlFindsAndStoresPDF(t *testing.T) {
	fetcher := &fakeFetcher{pages: fixtureSite()}
	crawlerService, sourceService := newTestCrawler(t, fetcher)

	job := discoveryJob("example-dno")
	sink := &nullSink{}

	result, err := crawlerService.Crawl(context.Background(), job, models.DiscoveryMode(2, time.Minute), sink)
	require.NoError(t, err)

	assert.NotEmpty(t, result.SuccessfulURLs)
	assert.Greater(t, result.SuccessConfidence, 0.0)
	require.NotEmpty(t, result.DownloadedFiles, "the linked PDF is downloaded")

	pdfFile := result.DownloadedFiles[0]
	assert.Equal(t, models.ContentTypePDF, pdfFile.ContentType)
	assert.NotEmpty(t, pdfFile.Hash)

	stored := sourceService.GetFilesForSiteYear("example-dno", 2024)
	require.NotEmpty(t, stored)
	assert.Equal(t, pdfFile.Hash, stored[0].FileHash)

	// Navigation history reflects commit order
	require.NotEmpty(t, result.NavigationHistory)
	for i := 1; i < len(result.NavigationHistory); i++ {
		assert.False(t, result.NavigationHistory[i].Timestamp.Before(result.NavigationHistory[i-1].Timestamp))
	}
}

func TestDiscoveryRespectsDepthBound(t *testing.T) {
	pages := map[string]fakePage{
		"https://example-dno.de": {200, "text/html",
			[]byte(`<html><body><nav><a href="/l1">1</a></nav></body></html>`)},
		"https://example-dno.de/l1": {200, "text/html",
			[]byte(`<html><body><nav><a href="/l2">2</a></nav></body></html>`)},
		"https://example-dno.de/l2": {200, "text/html",
			[]byte(`<html><body><nav><a href="/l3">3</a></nav></body></html>`)},
		"https://example-dno.de/l3": {200, "text/html", []byte(`<html><body>deep</body></html>`)},
	}
	fetcher := &fakeFetcher{pages: pages}
	crawlerService, _ := newTestCrawler(t, fetcher)

	result, err := crawlerService.Crawl(context.Background(), discoveryJob("example-dno"), models.DiscoveryMode(1, time.Minute), &nullSink{})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.MaxDepthReached, 1)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	for _, u := range fetcher.gets {
		assert.NotContains(t, u, "/l2", "depth 2 is never fetched")
	}
}

func TestTargetedCrawlFailsBelowThreshold(t *testing.T) {
	fetcher := &fakeFetcher{pages: fixtureSite()}
	crawlerService, _ := newTestCrawler(t, fetcher)

	weak := models.Pattern{
		SiteKey:    "example-dno",
		Kind:       models.PatternKindURL,
		Template:   "https://example-dno.de/downloads/netzentgelte-{year}.pdf",
		Confidence: 0.4,
		Variables:  []models.PatternVariable{{Name: "year", Kind: models.VariableYear, Position: 1}},
	}

	_, err := crawlerService.Crawl(context.Background(), discoveryJob("example-dno"),
		models.TargetedMode([]models.Pattern{weak}, 0.7), &nullSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")
}

func TestTargetedCrawlSubstitutesYear(t *testing.T) {
	fetcher := &fakeFetcher{pages: fixtureSite()}
	crawlerService, _ := newTestCrawler(t, fetcher)

	pattern := models.Pattern{
		SiteKey:    "example-dno",
		Kind:       models.PatternKindURL,
		Template:   "https://example-dno.de/downloads/netzentgelte-{year}.pdf",
		Confidence: 0.9,
		Variables:  []models.PatternVariable{{Name: "year", Kind: models.VariableYear, Position: 1}},
	}

	result, err := crawlerService.Crawl(context.Background(), discoveryJob("example-dno"),
		models.TargetedMode([]models.Pattern{pattern}, 0.7), &nullSink{})
	require.NoError(t, err)
	assert.Contains(t, result.SuccessfulURLs, "https://example-dno.de/downloads/netzentgelte-2024.pdf")
	assert.NotEmpty(t, result.DownloadedFiles)
}

func TestReverseCrawlAbortsOnFailedVerification(t *testing.T) {
	fetcher := &fakeFetcher{pages: fixtureSite()}
	crawlerService, _ := newTestCrawler(t, fetcher)

	mode := models.CrawlMode{
		Kind: models.ModeReverse,
		Path: []models.NavigationStep{
			{StepType: models.NavArchiveExploration, URL: "https://example-dno.de/missing-page"},
		},
		VerificationPoints: []int{0},
	}

	_, err := crawlerService.Crawl(context.Background(), discoveryJob("example-dno"), mode, &nullSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification point")
}

func TestHybridFallsBackAndMerges(t *testing.T) {
	fetcher := &fakeFetcher{pages: fixtureSite()}
	crawlerService, _ := newTestCrawler(t, fetcher)

	// Primary targets a dead pattern; the discovery fallback succeeds
	dead := models.Pattern{
		SiteKey:    "example-dno",
		Kind:       models.PatternKindURL,
		Template:   "https://example-dno.de/gone/{year}.pdf",
		Confidence: 0.95,
		Variables:  []models.PatternVariable{{Name: "year", Kind: models.VariableYear, Position: 1}},
	}
	mode := models.HybridMode(
		models.TargetedMode([]models.Pattern{dead}, 0.7),
		models.DiscoveryMode(2, time.Minute),
	)

	result, err := crawlerService.Crawl(context.Background(), discoveryJob("example-dno"), mode, &nullSink{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SuccessfulURLs, "fallback results are merged")
}

func TestCancellationPreservesPartialOutput(t *testing.T) {
	fetcher := &fakeFetcher{pages: fixtureSite()}
	crawlerService, _ := newTestCrawler(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the first suspension point

	result, err := crawlerService.Crawl(ctx, discoveryJob("example-dno"), models.DiscoveryMode(2, time.Minute), &nullSink{})
	require.Error(t, err)
	require.NotNil(t, result, "partial output is preserved")
	assert.Equal(t, "cancelled", result.FailureReasons["_fatal"])
}

func TestURLQueueOrderingAndDedup(t *testing.T) {
	q := NewURLQueue()

	now := time.Now()
	assert.True(t, q.Push(&URLQueueItem{URL: "https://a.de/x", Depth: 1, Priority: 1, AddedAt: now}))
	assert.True(t, q.Push(&URLQueueItem{URL: "https://a.de/y", Depth: 0, Priority: 2, AddedAt: now}))
	assert.False(t, q.Push(&URLQueueItem{URL: "https://a.de/x", Depth: 3, AddedAt: now}), "exact URL dedup")
	// Dedup is by exact string: case, fragment and query-order variants are distinct
	assert.True(t, q.Push(&URLQueueItem{URL: "https://a.de/x#frag", Depth: 3, AddedAt: now}))
	assert.True(t, q.Push(&URLQueueItem{URL: "https://A.de/x", Depth: 3, AddedAt: now}))
	assert.True(t, q.Contains("https://a.de/x"))
	assert.False(t, q.Contains("https://a.de/z"))

	first := q.Pop()
	require.NotNil(t, first)
	assert.Equal(t, "https://a.de/y", first.URL, "lower depth first")
	assert.Equal(t, 3, q.Len())
	q.Pop()
	q.Pop()
	q.Pop()
	assert.Nil(t, q.Pop())
}

func TestSuccessConfidenceScoring(t *testing.T) {
	result := &models.CrawlResult{
		SuccessfulURLs:  make([]string, 10),
		DownloadedFiles: make([]models.DownloadedFile, 5),
		StructuredData:  map[string]interface{}{},
		MaxDepthReached: 2,
	}
	for i := 0; i < 20; i++ {
		result.StructuredData[fmt.Sprintf("k%d", i)] = i
	}

	score := scoreResult(result, 20)
	assert.Greater(t, score, 0.9)
	assert.LessOrEqual(t, score, 1.0)

	empty := scoreResult(&models.CrawlResult{StructuredData: map[string]interface{}{}}, 0)
	assert.GreaterOrEqual(t, empty, 0.0)
	assert.LessOrEqual(t, empty, 1.0)
}
