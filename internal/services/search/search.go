package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// NewSearchService creates the search backend selected by config.
func NewSearchService(cfg *common.SearchConfig, logger arbor.ILogger) interfaces.SearchService {
	if strings.ToLower(cfg.Mode) == "web" && cfg.Endpoint != "" {
		return &WebSearchService{
			endpoint: cfg.Endpoint,
			apiKey:   cfg.APIKey,
			client:   &http.Client{Timeout: 20 * time.Second},
			logger:   logger,
		}
	}
	return NewMockSearchService()
}

// WebSearchService queries a SearxNG-compatible JSON endpoint.
type WebSearchService struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   arbor.ILogger
}

// Compile-time assertion
var _ interfaces.SearchService = (*WebSearchService)(nil)

func (s *WebSearchService) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	reqURL := fmt.Sprintf("%s?q=%s&format=json", s.endpoint, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Engine  string  `json:"engine"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var results []models.SearchResult
	for i, r := range payload.Results {
		if limit > 0 && i >= limit {
			break
		}
		results = append(results, models.SearchResult{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Content,
			Source:    r.Engine,
			Relevance: r.Score,
		})
	}

	s.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Web search completed")

	return results, nil
}

// MockSearchService produces deterministic results for tests and offline runs.
// Results are derived purely from the query string.
type MockSearchService struct{}

// Compile-time assertion
var _ interfaces.SearchService = (*MockSearchService)(nil)

// NewMockSearchService creates the deterministic fallback backend.
func NewMockSearchService() *MockSearchService {
	return &MockSearchService{}
}

func (s *MockSearchService) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	slug := strings.ToLower(strings.Join(strings.Fields(query), "-"))
	if len(slug) > 48 {
		slug = slug[:48]
	}

	results := []models.SearchResult{
		{
			Title:     fmt.Sprintf("Netzentgelte - %s", query),
			URL:       fmt.Sprintf("https://www.%s.example/netzentgelte", firstField(query)),
			Snippet:   fmt.Sprintf("Preisblätter und Netzentgelte für %s", query),
			Source:    "mock",
			Relevance: 0.9,
		},
		{
			Title:     fmt.Sprintf("Downloads - %s", query),
			URL:       fmt.Sprintf("https://www.%s.example/downloads/%s.pdf", firstField(query), slug),
			Snippet:   "Archiv der veröffentlichten Dokumente",
			Source:    "mock",
			Relevance: 0.7,
		},
	}
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func firstField(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return "example"
	}
	return fields[0]
}
