package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// stubCrawler completes after a configurable delay or blocks until cancelled.
type stubCrawler struct {
	delay   time.Duration
	fail    bool
	mu      sync.Mutex
	crawled []string
}

func (s *stubCrawler) Crawl(ctx context.Context, job *models.Job, mode models.CrawlMode, progress interfaces.ProgressSink) (*models.CrawlResult, error) {
	progress.Update(models.ProgressUpdate{
		SessionID:    job.SessionID,
		Status:       models.JobStatusCrawling,
		Phase:        "crawling",
		Progress:     10,
		PagesVisited: 1,
	})

	select {
	case <-ctx.Done():
		return &models.CrawlResult{
			SessionID:      job.SessionID,
			SiteKey:        job.SiteKey,
			SuccessfulURLs: []string{"https://" + job.SiteKey + ".de/partial"},
			FailureReasons: map[string]string{"_fatal": "cancelled"},
		}, ctx.Err()
	case <-time.After(s.delay):
	}

	if s.fail {
		return nil, fmt.Errorf("simulated crawl failure")
	}

	s.mu.Lock()
	s.crawled = append(s.crawled, job.SessionID)
	s.mu.Unlock()

	return &models.CrawlResult{
		SessionID:         job.SessionID,
		SiteKey:           job.SiteKey,
		Year:              job.Year,
		SuccessfulURLs:    []string{"https://" + job.SiteKey + ".de/ok"},
		StructuredData:    map[string]interface{}{"k": 1},
		SuccessConfidence: 0.8,
	}, nil
}

// stubLearning always recommends discovery.
type stubLearning struct{}

func (s *stubLearning) LearnFromSuccess(ctx context.Context, result *models.CrawlResult) error {
	return nil
}
func (s *stubLearning) LearnFromFailure(ctx context.Context, siteKey string, patternIDs []string, reason string) error {
	return nil
}
func (s *stubLearning) RecommendStrategy(ctx context.Context, siteKey string, year int) (*models.StrategyRecommendation, error) {
	return &models.StrategyRecommendation{Mode: models.DiscoveryMode(2, time.Minute)}, nil
}
func (s *stubLearning) GetPatterns(ctx context.Context, siteKey string) ([]*models.Pattern, error) {
	return nil, nil
}
func (s *stubLearning) GetTemporalPatterns(ctx context.Context, siteKey string) ([]*models.TemporalPattern, error) {
	return nil, nil
}
func (s *stubLearning) GetArchiveStructures(ctx context.Context, siteKey string) ([]*models.ArchiveStructure, error) {
	return nil, nil
}
func (s *stubLearning) VerifyPattern(ctx context.Context, patternID string, status models.VerificationStatus) error {
	return nil
}

func testConfig() *common.OrchestratorConfig {
	return &common.OrchestratorConfig{
		MaxWorkers:      2,
		TickMillis:      20,
		AgingMinutes:    15,
		DefaultJobSecs:  300,
		MaxRetries:      1,
		ShutdownTimeout: 5,
	}
}

func newTestOrchestrator(t *testing.T, crawler interfaces.CrawlerService) *Orchestrator {
	t.Helper()
	o := New(testConfig(), crawler, &stubLearning{}, nil, common.GetLogger())
	require.NoError(t, o.Start())
	t.Cleanup(func() { o.Shutdown(5 * time.Second) })
	return o
}

func submitRequest(siteKey string, year int, priority string) *models.CrawlSessionRequest {
	return &models.CrawlSessionRequest{
		SiteKey:   siteKey,
		Year:      year,
		Priority:  priority,
		CreatedBy: "test",
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, sessionID string, want models.JobStatus, timeout time.Duration) *models.LiveCrawlSession {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		session, err := o.GetSession(sessionID)
		require.NoError(t, err)
		if session.Status == want {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	session, _ := o.GetSession(sessionID)
	t.Fatalf("session %s never reached %s (last: %s)", sessionID, want, session.Status)
	return nil
}

func TestSubmitValidYearBounds(t *testing.T) {
	o := newTestOrchestrator(t, &stubCrawler{delay: time.Millisecond})

	currentYear := time.Now().Year()

	// In-range years accepted
	_, err := o.Submit(submitRequest("example-dno", currentYear, "medium"))
	assert.NoError(t, err)
	_, err = o.Submit(submitRequest("example-dno", currentYear+1, "medium"))
	assert.NoError(t, err)

	// Out-of-range years rejected synchronously
	_, err = o.Submit(submitRequest("example-dno", 1999, "medium"))
	assert.Error(t, err)
	_, err = o.Submit(submitRequest("example-dno", currentYear+2, "medium"))
	assert.Error(t, err)

	// Site key is required
	_, err = o.Submit(submitRequest("", 2024, "medium"))
	assert.Error(t, err)
}

func TestSubmitReturnsQueueProjection(t *testing.T) {
	// Long delay keeps the first job running while more queue up
	o := newTestOrchestrator(t, &stubCrawler{delay: time.Minute})

	resp, err := o.Submit(submitRequest("example-dno", 2024, "medium"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, resp.Status)
	assert.GreaterOrEqual(t, resp.QueuePosition, 1)
	assert.False(t, resp.EstimatedStart.IsZero())

	session, err := o.GetSession(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, session.SessionID)
}

func TestAutomatedPriorityDerivation(t *testing.T) {
	assert.Equal(t, models.PriorityLow, models.OriginAutomatedDiscovery.DefaultPriority())
	assert.Equal(t, models.PriorityMedium, models.OriginHistoricalBackfill.DefaultPriority())
	assert.Equal(t, models.PriorityHigh, models.OriginVerification.DefaultPriority())
	assert.Equal(t, models.PriorityMedium, models.OriginUserRequest.DefaultPriority())
}

func TestJobCompletesAndSessionFinalizes(t *testing.T) {
	crawler := &stubCrawler{delay: 10 * time.Millisecond}
	o := newTestOrchestrator(t, crawler)

	resp, err := o.Submit(submitRequest("example-dno", 2024, "high"))
	require.NoError(t, err)

	session := waitForStatus(t, o, resp.SessionID, models.JobStatusCompleted, 5*time.Second)
	assert.Equal(t, float64(100), session.Progress)
	assert.NotNil(t, session.FinishedAt)
	assert.NotEmpty(t, session.WorkerID)

	logs, err := o.GetSessionLogs(resp.SessionID, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestProgressIsMonotone(t *testing.T) {
	o := newTestOrchestrator(t, &stubCrawler{delay: 50 * time.Millisecond})

	resp, err := o.Submit(submitRequest("example-dno", 2024, "medium"))
	require.NoError(t, err)

	var observed []float64
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := o.GetSession(resp.SessionID)
		require.NoError(t, err)
		observed = append(observed, session.Progress)
		if session.Status == models.JobStatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1], "progress regressed at observation %d", i)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	// Saturate both workers so the third job stays queued
	o := newTestOrchestrator(t, &stubCrawler{delay: time.Minute})

	_, err := o.Submit(submitRequest("dno-a", 2024, "critical"))
	require.NoError(t, err)
	_, err = o.Submit(submitRequest("dno-b", 2024, "critical"))
	require.NoError(t, err)

	resp, err := o.Submit(submitRequest("dno-c", 2024, "low"))
	require.NoError(t, err)

	require.NoError(t, o.Cancel(resp.SessionID))

	session, err := o.GetSession(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, session.Status)

	// Idempotent
	assert.NoError(t, o.Cancel(resp.SessionID))

	// Queue invariant: the cancelled job is in no queue
	o.mu.Lock()
	for priority := range o.queues {
		for _, job := range o.queues[priority] {
			assert.NotEqual(t, session.JobID, job.ID)
		}
	}
	o.mu.Unlock()
}

func TestCancelRunningJobStopsWorker(t *testing.T) {
	o := newTestOrchestrator(t, &stubCrawler{delay: time.Minute})

	resp, err := o.Submit(submitRequest("example-dno", 2024, "critical"))
	require.NoError(t, err)

	waitForStatus(t, o, resp.SessionID, models.JobStatusCrawling, 5*time.Second)
	require.NoError(t, o.Cancel(resp.SessionID))

	session := waitForStatus(t, o, resp.SessionID, models.JobStatusCancelled, 5*time.Second)
	assert.Equal(t, models.JobStatusCancelled, session.Status)

	// Worker slot drains
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		workers := len(o.workers)
		o.mu.Unlock()
		if workers == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("worker never drained after cancel")
}

func TestPauseAndResume(t *testing.T) {
	o := newTestOrchestrator(t, &stubCrawler{delay: time.Minute})

	// Saturate workers, then pause a queued job
	_, err := o.Submit(submitRequest("dno-a", 2024, "critical"))
	require.NoError(t, err)
	_, err = o.Submit(submitRequest("dno-b", 2024, "critical"))
	require.NoError(t, err)

	resp, err := o.Submit(submitRequest("dno-c", 2024, "low"))
	require.NoError(t, err)

	require.NoError(t, o.Pause(resp.SessionID))
	session, _ := o.GetSession(resp.SessionID)
	assert.Equal(t, models.JobStatusPaused, session.Status)

	require.NoError(t, o.Resume(resp.SessionID))
	session, _ = o.GetSession(resp.SessionID)
	assert.Equal(t, models.JobStatusQueued, session.Status)

	// Resume restores the original priority
	o.mu.Lock()
	found := false
	for _, job := range o.queues[models.PriorityLow] {
		if job.SessionID == resp.SessionID {
			found = true
		}
	}
	o.mu.Unlock()
	assert.True(t, found, "resumed job re-enqueued at its original priority")
}

func TestFailedJobRetriesThenFails(t *testing.T) {
	crawler := &stubCrawler{delay: 5 * time.Millisecond, fail: true}
	o := newTestOrchestrator(t, crawler)

	resp, err := o.Submit(submitRequest("example-dno", 2024, "critical"))
	require.NoError(t, err)

	session := waitForStatus(t, o, resp.SessionID, models.JobStatusFailed, 10*time.Second)
	assert.NotEmpty(t, session.FirstError)
	assert.GreaterOrEqual(t, session.ErrorCount, 1)
	assert.NotNil(t, session.FinishedAt)
}

func TestScheduledJobReleases(t *testing.T) {
	o := newTestOrchestrator(t, &stubCrawler{delay: 5 * time.Millisecond})

	jobID, err := o.Schedule(submitRequest("example-dno", 2024, "medium"), time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	// The release loop ticks every 5s; wait for it to move the job along
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		sessions := o.ListActiveSessions()
		if len(sessions) == 0 {
			return // completed and finalized
		}
		if sessions[0].Status == models.JobStatusCompleted {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("scheduled job never released")
}

func TestUnknownSessionErrors(t *testing.T) {
	o := newTestOrchestrator(t, &stubCrawler{delay: time.Millisecond})

	_, err := o.GetSession("session_nope")
	assert.Error(t, err)
	assert.Error(t, o.Cancel("session_nope"))
	assert.Error(t, o.Pause("session_nope"))
	assert.Error(t, o.Resume("session_nope"))
	_, err = o.GetSessionLogs("session_nope", 10)
	assert.Error(t, err)
}

func TestAvgJobTimeDefaultsBeforeData(t *testing.T) {
	o := New(testConfig(), &stubCrawler{}, &stubLearning{}, nil, common.GetLogger())
	o.mu.Lock()
	avg := o.avgJobTimeLocked()
	o.mu.Unlock()
	assert.Equal(t, 300*time.Second, avg)
}
