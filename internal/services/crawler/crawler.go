// -----------------------------------------------------------------------
// Last Modified: Saturday, 1st August 2026 2:47:29 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/services/learning"
	"github.com/ternarybob/graben/internal/services/recovery"
)

const (
	hybridFallbackThreshold = 0.7
	defaultRetryAttempts    = 3
)

// Service executes one job's crawl strategy and produces a CrawlResult.
type Service struct {
	fetcher    interfaces.Fetcher
	recognizer interfaces.ContentRecognizer
	extractor  interfaces.ExtractorService
	recovery   *recovery.Engine
	sources    interfaces.SourceService
	search     interfaces.SearchService
	logger     arbor.ILogger
}

// Compile-time assertion
var _ interfaces.CrawlerService = (*Service)(nil)

// NewService creates an adaptive crawler.
func NewService(
	fetcher interfaces.Fetcher,
	recognizer interfaces.ContentRecognizer,
	extractor interfaces.ExtractorService,
	recoveryEngine *recovery.Engine,
	sources interfaces.SourceService,
	search interfaces.SearchService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		fetcher:    fetcher,
		recognizer: recognizer,
		extractor:  extractor,
		recovery:   recoveryEngine,
		sources:    sources,
		search:     search,
		logger:     logger,
	}
}

// crawlState accumulates a session's output across navigation goroutines.
type crawlState struct {
	mu               sync.Mutex
	successfulURLs   []string
	downloadedFiles  []models.DownloadedFile
	structuredData   map[string]interface{}
	failureReasons   map[string]string
	pagesVisited     int
	recordsExtracted int
	maxDepth         int
}

func newCrawlState() *crawlState {
	return &crawlState{
		structuredData: make(map[string]interface{}),
		failureReasons: make(map[string]string),
	}
}

func (st *crawlState) recordSuccess(rawURL string, extracted *models.ExtractedContent, file *models.DownloadedFile) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.successfulURLs = append(st.successfulURLs, rawURL)
	if file != nil {
		st.downloadedFiles = append(st.downloadedFiles, *file)
	}
	if extracted != nil {
		st.recordsExtracted += extracted.RecordCount()
		// Key-wise merge, later values win
		for k, v := range extracted.StructuredData {
			st.structuredData[k] = v
		}
	}
}

func (st *crawlState) recordFailure(rawURL, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failureReasons[rawURL] = reason
}

func (st *crawlState) visit(depth int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pagesVisited++
	if depth > st.maxDepth {
		st.maxDepth = depth
	}
}

func (st *crawlState) counts() (pages, files, records int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pagesVisited, len(st.downloadedFiles), st.recordsExtracted
}

// Crawl executes the crawl mode for the job.
func (s *Service) Crawl(ctx context.Context, job *models.Job, mode models.CrawlMode, progress interfaces.ProgressSink) (*models.CrawlResult, error) {
	start := time.Now()

	if job.Constraints.MaxTimeMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.Constraints.MaxTimeMinutes)*time.Minute)
		defer cancel()
	}

	s.sources.SetSession(job.SessionID)

	state := newCrawlState()
	navigator := NewNavigator(s.logger)

	var err error
	switch mode.Kind {
	case models.ModeDiscovery:
		err = s.crawlDiscovery(ctx, job, mode, state, navigator, progress)
	case models.ModeTargeted:
		err = s.crawlTargeted(ctx, job, mode, state, navigator, progress)
	case models.ModeReverse:
		err = s.crawlReverse(ctx, job, mode, state, navigator, progress)
	case models.ModeHybrid:
		return s.crawlHybrid(ctx, job, mode, progress, start)
	default:
		return nil, fmt.Errorf("unknown crawl mode: %s", mode.Kind)
	}

	result := s.buildResult(job, state, navigator, start)

	if err != nil {
		if ctx.Err() != nil && err == ctx.Err() {
			// Cancellation and timeout keep partial output
			state.mu.Lock()
			state.failureReasons["_fatal"] = "cancelled"
			state.mu.Unlock()
			result.FailureReasons = state.failureReasons
		}
		return result, err
	}
	return result, nil
}

// crawlDiscovery runs breadth-limited exploration from the seed set with the
// three navigation styles in parallel.
func (s *Service) crawlDiscovery(ctx context.Context, job *models.Job, mode models.CrawlMode, state *crawlState, navigator *Navigator, progress interfaces.ProgressSink) error {
	if mode.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mode.Budget)
		defer cancel()
	}

	maxDepth := mode.MaxDepth
	if maxDepth <= 0 {
		maxDepth = job.Constraints.MaxDepth
	}

	seeds := s.seedURLs(ctx, job)
	if len(seeds) == 0 {
		return fmt.Errorf("no seed URLs for site key %s", job.SiteKey)
	}

	progress.Log(job.SessionID, "info", "crawling", fmt.Sprintf("Discovery from %d seed(s), depth %d", len(seeds), maxDepth))

	styles := []models.NavigationStrategy{
		models.NavMenuTraversal,
		models.NavArchiveExploration,
		models.NavSearchDriven,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, style := range styles {
		style := style
		queue := NewURLQueue()
		for _, seed := range seeds {
			queue.Push(&URLQueueItem{URL: seed, Strategy: style, Priority: 0, AddedAt: time.Now()})
		}
		group.Go(func() error {
			return s.exploreQueue(groupCtx, job, queue, maxDepth, state, navigator, progress)
		})
	}

	if err := group.Wait(); err != nil && ctx.Err() != nil {
		// Budget expiry ends discovery; whatever was collected stands
		if len(state.successfulURLs) > 0 {
			return nil
		}
		return err
	}
	return nil
}

// exploreQueue drains one navigation style's queue under the depth bound.
func (s *Service) exploreQueue(ctx context.Context, job *models.Job, queue *URLQueue, maxDepth int, state *crawlState, navigator *Navigator, progress interfaces.ProgressSink) error {
	for {
		// Suspension point: cancellation check between navigation steps
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pages, _, _ := state.counts()
		if job.Constraints.MaxPages > 0 && pages >= job.Constraints.MaxPages {
			return nil
		}

		item := queue.Pop()
		if item == nil {
			return nil
		}
		if item.Depth > maxDepth {
			continue
		}
		if !domainAllowed(item.URL, job.Constraints) {
			continue
		}

		state.visit(item.Depth)
		navigator.RecordVisit(item.URL, item.Strategy)
		s.reportProgress(job, state, progress, item.URL)

		body, contentType, err := s.fetchAndClassify(ctx, item.URL)
		if err != nil {
			state.recordFailure(item.URL, err.Error())
			continue
		}

		if contentType == models.ContentTypeHTMLTable {
			for _, link := range navigator.ExtractLinks(item.URL, body, item.Strategy) {
				queue.Push(&URLQueueItem{
					URL:       link,
					Strategy:  item.Strategy,
					Depth:     item.Depth + 1,
					ParentURL: item.URL,
					Priority:  item.Priority + 1, // discovered URLs rank below their seed
					AddedAt:   time.Now(),
				})
			}
		}

		s.processURL(ctx, job, item.URL, contentType, body, state)
	}
}

// crawlTargeted executes high-confidence patterns in descending confidence
// order. It fails when no pattern meets the threshold.
func (s *Service) crawlTargeted(ctx context.Context, job *models.Job, mode models.CrawlMode, state *crawlState, navigator *Navigator, progress interfaces.ProgressSink) error {
	var qualified []models.Pattern
	for _, p := range mode.Patterns {
		if p.EffectiveConfidence() >= mode.Threshold {
			qualified = append(qualified, p)
		}
	}
	if len(qualified) == 0 {
		return fmt.Errorf("no pattern meets targeted threshold %.2f", mode.Threshold)
	}

	// Descending by effective confidence
	for i := 0; i < len(qualified); i++ {
		for j := i + 1; j < len(qualified); j++ {
			if qualified[j].EffectiveConfidence() > qualified[i].EffectiveConfidence() {
				qualified[i], qualified[j] = qualified[j], qualified[i]
			}
		}
	}

	progress.Log(job.SessionID, "info", "crawling", fmt.Sprintf("Targeted crawl over %d pattern(s)", len(qualified)))

	for _, pattern := range qualified {
		// Suspension point: cancellation check between navigation steps
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		candidate, ok := learning.SubstituteYear(&pattern, job.Year)
		if !ok {
			candidate = pattern.Template
		}
		if !domainAllowed(candidate, job.Constraints) {
			continue
		}

		state.visit(1)
		navigator.RecordVisit(candidate, models.NavArchiveExploration)
		s.reportProgress(job, state, progress, candidate)

		body, contentType, err := s.fetchAndClassify(ctx, candidate)
		if err != nil {
			state.recordFailure(candidate, err.Error())
			continue
		}
		s.processURL(ctx, job, candidate, contentType, body, state)
	}
	return nil
}

// crawlReverse replays an ordered navigation sequence, verifying non-empty
// structured data at each verification point. A failed verification aborts.
func (s *Service) crawlReverse(ctx context.Context, job *models.Job, mode models.CrawlMode, state *crawlState, navigator *Navigator, progress interfaces.ProgressSink) error {
	verifications := make(map[int]bool, len(mode.VerificationPoints))
	for _, idx := range mode.VerificationPoints {
		verifications[idx] = true
	}

	progress.Log(job.SessionID, "info", "crawling", fmt.Sprintf("Reverse replay of %d step(s)", len(mode.Path)))

	for i, step := range mode.Path {
		// Suspension point: cancellation check between navigation steps
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		state.visit(i + 1)
		navigator.RecordVisit(step.URL, step.StepType)
		s.reportProgress(job, state, progress, step.URL)

		body, contentType, err := s.fetchAndClassify(ctx, step.URL)
		if err != nil {
			state.recordFailure(step.URL, err.Error())
			if verifications[i] {
				return fmt.Errorf("verification point %d failed: %w", i, err)
			}
			continue
		}

		extracted := s.processURL(ctx, job, step.URL, contentType, body, state)

		if verifications[i] {
			if extracted == nil || len(extracted.StructuredData) == 0 {
				return fmt.Errorf("verification point %d yielded no structured data at %s", i, step.URL)
			}
		}
	}
	return nil
}

// crawlHybrid runs the primary mode; when its success confidence falls below
// the threshold or it fails, fallbacks run in order and results merge:
// URL lists concatenated and deduplicated, structured data merged key-wise
// with later values winning, navigation histories concatenated.
func (s *Service) crawlHybrid(ctx context.Context, job *models.Job, mode models.CrawlMode, progress interfaces.ProgressSink, start time.Time) (*models.CrawlResult, error) {
	if mode.Primary == nil {
		return nil, fmt.Errorf("hybrid mode requires a primary strategy")
	}

	merged, primaryErr := s.Crawl(ctx, job, *mode.Primary, progress)
	if merged == nil {
		merged = &models.CrawlResult{
			SessionID:      job.SessionID,
			SiteKey:        job.SiteKey,
			Year:           job.Year,
			StructuredData: make(map[string]interface{}),
			FailureReasons: make(map[string]string),
		}
	}

	if primaryErr == nil && merged.SuccessConfidence >= hybridFallbackThreshold {
		return merged, nil
	}

	progress.Log(job.SessionID, "info", "crawling",
		fmt.Sprintf("Primary strategy below threshold (%.2f) - running %d fallback(s)", merged.SuccessConfidence, len(mode.Fallbacks)))

	for _, fallback := range mode.Fallbacks {
		select {
		case <-ctx.Done():
			return merged, ctx.Err()
		default:
		}

		result, err := s.Crawl(ctx, job, fallback, progress)
		if err != nil || result == nil {
			continue
		}
		mergeResults(merged, result)
		if merged.SuccessConfidence >= hybridFallbackThreshold {
			break
		}
	}

	merged.Duration = time.Since(start)
	return merged, nil
}

// processURL runs the extract -> handoff pipeline for one fetched resource,
// wrapped in the recovery loop with bounded retries.
func (s *Service) processURL(ctx context.Context, job *models.Job, rawURL string, contentType models.ContentType, body []byte, state *crawlState) *models.ExtractedContent {
	var extracted *models.ExtractedContent
	var lastErr error
	method := "table_extraction"

	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		extracted, lastErr = s.extractor.ExtractFromBytes(ctx, rawURL, contentType, body)
		if lastErr == nil {
			s.recovery.RecordOutcome(rawURL, true)
			break
		}

		action := s.recovery.Recover(rawURL, lastErr, 0, method)
		switch action.Kind {
		case recovery.ActionRetryWithBackoff:
			select {
			case <-ctx.Done():
				state.recordFailure(rawURL, ctx.Err().Error())
				return nil
			case <-time.After(recovery.Backoff(action.BaseDelay, attempt)):
			}
		case recovery.ActionChangeExtraction:
			method = action.NextMethod
			// Parse failures on structured text degrade to the unknown
			// pipeline, which re-recognizes from content
			contentType = models.ContentTypeUnknown
		default:
			state.recordFailure(rawURL, lastErr.Error())
			return nil
		}
	}
	if lastErr != nil {
		state.recordFailure(rawURL, lastErr.Error())
		return nil
	}

	var file *models.DownloadedFile
	if contentType.IsDocument() || extracted.ContentType.IsDocument() {
		file = s.handoff(ctx, job, rawURL, extracted, body)
	}

	state.recordSuccess(rawURL, extracted, file)
	return extracted
}

// handoff stores a downloaded artifact through the source manager.
func (s *Service) handoff(ctx context.Context, job *models.Job, rawURL string, extracted *models.ExtractedContent, body []byte) *models.DownloadedFile {
	filename := filenameFromURL(rawURL, extracted.ContentType)

	metadata, err := s.sources.Store(ctx, &interfaces.StoreRequest{
		SiteKey:    job.SiteKey,
		Year:       job.Year,
		Filename:   filename,
		Content:    body,
		SourceURL:  rawURL,
		FinalURL:   rawURL,
		SourceType: string(extracted.ContentType),
		MimeType:   mimeFor(extracted.ContentType),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("url", rawURL).Msg("Source manager handoff failed")
		return nil
	}

	if len(extracted.StructuredData) > 0 {
		if err := s.sources.UpdateExtractionResults(ctx, metadata.ID, extracted.Method, extracted.StructuredData, extracted.Confidence); err != nil {
			s.logger.Debug().Err(err).Str("file_id", metadata.ID).Msg("Extraction update skipped")
		}
	}

	return &models.DownloadedFile{
		URL:               rawURL,
		StoragePath:       metadata.RelativePath,
		FileID:            metadata.ID,
		ContentType:       extracted.ContentType,
		Size:              metadata.FileSize,
		Hash:              metadata.FileHash,
		ExtractionSuccess: len(extracted.StructuredData) > 0,
	}
}

// fetchAndClassify performs the fetch -> recognize steps of the pipeline,
// consulting the recovery engine on failures: retries run with backoff and
// alternative URLs are tried in place of the original.
func (s *Service) fetchAndClassify(ctx context.Context, rawURL string) ([]byte, models.ContentType, error) {
	target := rawURL
	var lastErr error

	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		result, err := s.fetcher.Get(ctx, target)
		status := 0
		if result != nil {
			status = result.StatusCode
		}
		if err == nil && status >= 200 && status < 300 {
			s.recovery.RecordOutcome(rawURL, true)
			headers := map[string]string{"Content-Type": result.ContentType}
			return result.Body, s.recognizer.Recognize(target, result.Body, headers), nil
		}
		if err == nil {
			err = fmt.Errorf("status %d for %s", status, target)
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, models.ContentTypeUnknown, ctx.Err()
		}

		action := s.recovery.Recover(rawURL, err, status, "")
		switch action.Kind {
		case recovery.ActionRetryWithBackoff:
			select {
			case <-ctx.Done():
				return nil, models.ContentTypeUnknown, ctx.Err()
			case <-time.After(recovery.Backoff(action.BaseDelay, attempt)):
			}
		case recovery.ActionUseAlternativeURL:
			if action.Alternative == "" {
				return nil, models.ContentTypeUnknown, lastErr
			}
			target = action.Alternative
		default:
			return nil, models.ContentTypeUnknown, lastErr
		}
	}
	return nil, models.ContentTypeUnknown, lastErr
}

// seedURLs builds the discovery seed set: the canonical site URL plus
// search-driven seeds from the search backend.
func (s *Service) seedURLs(ctx context.Context, job *models.Job) []string {
	seeds := []string{fmt.Sprintf("https://%s.de", job.SiteKey)}

	query := fmt.Sprintf("%s netzentgelte %d pdf", job.SiteKey, job.Year)
	results, err := s.search.Search(ctx, query, 5)
	if err != nil {
		s.logger.Debug().Err(err).Str("query", query).Msg("Search-driven seeding skipped")
		return seeds
	}
	for _, r := range results {
		if domainAllowed(r.URL, job.Constraints) {
			seeds = append(seeds, r.URL)
		}
	}
	return seeds
}

func (s *Service) reportProgress(job *models.Job, state *crawlState, progress interfaces.ProgressSink, currentURL string) {
	pages, files, records := state.counts()

	pct := 0.0
	if job.Constraints.MaxPages > 0 {
		pct = float64(pages) / float64(job.Constraints.MaxPages) * 100
		if pct > 99 {
			pct = 99 // completion is the orchestrator's call
		}
	}

	progress.Update(models.ProgressUpdate{
		SessionID:        job.SessionID,
		Status:           models.JobStatusCrawling,
		Phase:            "crawling",
		Progress:         pct,
		CurrentURL:       currentURL,
		PagesVisited:     pages,
		FilesDownloaded:  files,
		RecordsExtracted: records,
	})
}

// buildResult assembles the CrawlResult and scores it.
func (s *Service) buildResult(job *models.Job, state *crawlState, navigator *Navigator, start time.Time) *models.CrawlResult {
	state.mu.Lock()
	defer state.mu.Unlock()

	history := navigator.History()
	result := &models.CrawlResult{
		SessionID:         job.SessionID,
		SiteKey:           job.SiteKey,
		Year:              job.Year,
		SuccessfulURLs:    dedupeStrings(state.successfulURLs),
		NavigationHistory: history,
		DownloadedFiles:   state.downloadedFiles,
		StructuredData:    state.structuredData,
		FailureReasons:    state.failureReasons,
		Duration:          time.Since(start),
		MaxDepthReached:   state.maxDepth,
	}
	result.SuccessConfidence = scoreResult(result, len(history))
	return result
}

// scoreResult computes the weighted success-confidence mean of the four
// quality factors, clipped to [0, 1].
func scoreResult(result *models.CrawlResult, navigationSteps int) float64 {
	urlFactor := clip01(float64(len(result.SuccessfulURLs)) / 10)
	fileFactor := clip01(float64(len(result.DownloadedFiles)) / 5)

	fieldFactor := clip01(float64(len(result.StructuredData)) / 20)
	if fieldFactor < 0.3 {
		fieldFactor = 0.3
	}

	depth := result.MaxDepthReached
	if depth < 1 {
		depth = 1
	}
	navFactor := clip01(float64(navigationSteps) / float64(depth))

	return clip01((urlFactor + fileFactor + fieldFactor + navFactor) / 4)
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

// mergeResults folds src into dst per the hybrid merge rules.
func mergeResults(dst, src *models.CrawlResult) {
	dst.SuccessfulURLs = dedupeStrings(append(dst.SuccessfulURLs, src.SuccessfulURLs...))
	dst.DownloadedFiles = append(dst.DownloadedFiles, src.DownloadedFiles...)
	dst.NavigationHistory = append(dst.NavigationHistory, src.NavigationHistory...)
	for k, v := range src.StructuredData {
		dst.StructuredData[k] = v
	}
	for k, v := range src.FailureReasons {
		if _, exists := dst.FailureReasons[k]; !exists {
			dst.FailureReasons[k] = v
		}
	}
	if src.MaxDepthReached > dst.MaxDepthReached {
		dst.MaxDepthReached = src.MaxDepthReached
	}
	dst.SuccessConfidence = scoreResult(dst, len(dst.NavigationHistory))
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	var result []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func filenameFromURL(rawURL string, contentType models.ContentType) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	ext := map[models.ContentType]string{
		models.ContentTypePDF:   ".pdf",
		models.ContentTypeCSV:   ".csv",
		models.ContentTypeExcel: ".xlsx",
		models.ContentTypeImage: ".png",
		models.ContentTypeJSON:  ".json",
		models.ContentTypeXML:   ".xml",
	}[contentType]
	host := "download"
	if u != nil && u.Host != "" {
		host = strings.ReplaceAll(u.Host, ".", "-")
	}
	return host + ext
}

func mimeFor(contentType models.ContentType) string {
	switch contentType {
	case models.ContentTypePDF:
		return "application/pdf"
	case models.ContentTypeCSV:
		return "text/csv"
	case models.ContentTypeExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case models.ContentTypeImage:
		return "image/png"
	case models.ContentTypeJSON:
		return "application/json"
	case models.ContentTypeXML:
		return "application/xml"
	}
	return "application/octet-stream"
}
