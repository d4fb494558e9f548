// -----------------------------------------------------------------------
// Last Modified: Saturday, 1st August 2026 6:12:44 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

const (
	minYear          = 2000
	jobTimeWindow    = 20 // completed jobs in the running mean
	sessionLogLimit  = 500
)

// Orchestrator owns the job queues and the session table. It schedules jobs
// under the worker pool bound, routes cancellation/pause/resume and runs the
// periodic maintenance loops.
type Orchestrator struct {
	config   *common.OrchestratorConfig
	crawler  interfaces.CrawlerService
	learning interfaces.LearningService
	storage  interfaces.StorageManager // optional persistence
	monitor  *ResourceMonitor
	validate *validator.Validate
	logger   arbor.ILogger

	mu          sync.Mutex
	queues      [4][]*models.Job // indexed by models.JobPriority
	scheduled   []*models.Job    // sorted by ScheduledFor
	paused      map[string]*models.Job
	sessions    map[string]*models.LiveCrawlSession
	sessionLogs map[string][]models.SessionLog
	workers     map[string]*workerHandle // session id -> handle
	jobTimes    []time.Duration
	shuttingDown bool

	stopCh  chan struct{}
	loopsWG sync.WaitGroup
	started bool
}

// New creates an orchestrator.
func New(
	config *common.OrchestratorConfig,
	crawler interfaces.CrawlerService,
	learning interfaces.LearningService,
	storage interfaces.StorageManager,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		config:      config,
		crawler:     crawler,
		learning:    learning,
		storage:     storage,
		monitor:     NewResourceMonitor(logger),
		validate:    validator.New(),
		logger:      logger,
		paused:      make(map[string]*models.Job),
		sessions:    make(map[string]*models.LiveCrawlSession),
		sessionLogs: make(map[string][]models.SessionLog),
		workers:     make(map[string]*workerHandle),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the four background loops: job processing, resource
// monitoring, scheduled-job release and performance monitoring.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	o.mu.Unlock()

	o.loopsWG.Add(4)
	go o.jobLoop()
	go o.resourceLoop()
	go o.scheduledLoop()
	go o.metricsLoop()

	o.logger.Info().
		Int("max_workers", o.config.MaxWorkers).
		Dur("tick", o.config.Tick()).
		Msg("Orchestrator started")

	return nil
}

// Submit validates a request, creates the session and enqueues the job.
// The estimated start is queue position times the running mean job time.
func (o *Orchestrator) Submit(req *models.CrawlSessionRequest) (*models.CrawlSessionResponse, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid crawl request: %w", err)
	}
	currentYear := time.Now().Year()
	if req.Year < minYear || req.Year > currentYear+1 {
		return nil, fmt.Errorf("year %d out of range [%d, %d]", req.Year, minYear, currentYear+1)
	}

	priority := models.ParsePriority(req.Priority)
	constraints := models.DefaultConstraints()
	if req.Constraints != nil {
		constraints = *req.Constraints
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:            common.NewJobID(),
		SiteKey:       req.SiteKey,
		Year:          req.Year,
		Priority:      priority,
		Origin:        models.OriginUserRequest,
		Status:        models.JobStatusQueued,
		Constraints:   constraints,
		RequestedMode: models.CrawlModeKind(req.Mode),
		MaxRetries:    o.config.MaxRetries,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		EnqueuedAt:    now,
		SessionID:     common.NewSessionID(),
	}

	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator is shutting down")
	}

	session := &models.LiveCrawlSession{
		SessionID: job.SessionID,
		JobID:     job.ID,
		SiteKey:   job.SiteKey,
		Year:      job.Year,
		Status:    models.JobStatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.sessions[job.SessionID] = session
	o.queues[priority] = append(o.queues[priority], job)
	position := o.queuePositionLocked(job)
	avg := o.avgJobTimeLocked()
	o.mu.Unlock()

	o.persistJob(job)
	o.persistSession(session)

	o.logger.Info().
		Str("session_id", job.SessionID).
		Str("site_key", job.SiteKey).
		Int("year", job.Year).
		Str("priority", priority.String()).
		Int("queue_position", position).
		Msg("Job submitted")

	return &models.CrawlSessionResponse{
		SessionID:      job.SessionID,
		Status:         models.JobStatusQueued,
		EstimatedStart: now.Add(time.Duration(position) * avg),
		QueuePosition:  position,
	}, nil
}

// SubmitAutomated enqueues a job with priority derived from its origin.
func (o *Orchestrator) SubmitAutomated(siteKey string, year int, origin models.JobOrigin) (string, error) {
	resp, err := o.Submit(&models.CrawlSessionRequest{
		SiteKey:   siteKey,
		Year:      year,
		Priority:  origin.DefaultPriority().String(),
		CreatedBy: string(origin),
	})
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if session, ok := o.sessions[resp.SessionID]; ok {
		if job := o.findQueuedJobLocked(session.JobID); job != nil {
			job.Origin = origin
		}
	}
	o.mu.Unlock()

	return resp.SessionID, nil
}

// Schedule places a job in the scheduled store; the release loop moves it to
// its priority queue when due.
func (o *Orchestrator) Schedule(req *models.CrawlSessionRequest, at time.Time) (string, error) {
	if err := o.validate.Struct(req); err != nil {
		return "", fmt.Errorf("invalid crawl request: %w", err)
	}
	currentYear := time.Now().Year()
	if req.Year < minYear || req.Year > currentYear+1 {
		return "", fmt.Errorf("year %d out of range [%d, %d]", req.Year, minYear, currentYear+1)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:           common.NewJobID(),
		SiteKey:      req.SiteKey,
		Year:         req.Year,
		Priority:     models.ParsePriority(req.Priority),
		Origin:       models.OriginUserRequest,
		Status:       models.JobStatusQueued,
		Constraints:  models.DefaultConstraints(),
		MaxRetries:   o.config.MaxRetries,
		ScheduledFor: &at,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
		SessionID:    common.NewSessionID(),
	}
	if req.Constraints != nil {
		job.Constraints = *req.Constraints
	}

	o.mu.Lock()
	session := &models.LiveCrawlSession{
		SessionID: job.SessionID,
		JobID:     job.ID,
		SiteKey:   job.SiteKey,
		Year:      job.Year,
		Status:    models.JobStatusQueued,
		Phase:     "scheduled",
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.sessions[job.SessionID] = session
	o.scheduled = append(o.scheduled, job)
	sort.Slice(o.scheduled, func(i, j int) bool {
		return o.scheduled[i].ScheduledFor.Before(*o.scheduled[j].ScheduledFor)
	})
	o.mu.Unlock()

	o.persistJob(job)
	o.persistSession(session)

	o.logger.Info().
		Str("job_id", job.ID).
		Str("scheduled_for", at.Format(time.RFC3339)).
		Msg("Job scheduled")

	return job.ID, nil
}

// Cancel stops a session: running workers get the cancel signal, queued and
// scheduled copies are removed, the session becomes Cancelled.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown session id: %s", sessionID)
	}
	if session.Status.IsTerminal() {
		o.mu.Unlock()
		return nil // cancellation is idempotent
	}

	handle := o.workers[sessionID]
	o.removeFromQueuesLocked(session.JobID)
	delete(o.paused, sessionID)

	now := time.Now().UTC()
	session.Status = models.JobStatusCancelled
	session.Phase = "cancelled"
	session.FinishedAt = &now
	session.UpdatedAt = now
	o.appendLogLocked(sessionID, "info", "cancelled", "Session cancelled")
	o.mu.Unlock()

	if handle != nil {
		handle.signalCancel()
	}

	o.persistSession(session)
	o.logger.Info().Str("session_id", sessionID).Msg("Session cancelled")
	return nil
}

// Pause stops work at the worker's next suspension point and parks the job.
func (o *Orchestrator) Pause(sessionID string) error {
	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown session id: %s", sessionID)
	}
	if session.Status.IsTerminal() || session.Status == models.JobStatusPaused {
		o.mu.Unlock()
		return fmt.Errorf("session %s is %s", sessionID, session.Status)
	}

	var handle *workerHandle
	if session.Status == models.JobStatusQueued {
		if job := o.findQueuedJobLocked(session.JobID); job != nil {
			o.removeFromQueuesLocked(job.ID)
			o.paused[sessionID] = job
		}
	} else {
		handle = o.workers[sessionID]
		if handle != nil {
			handle.pausing = true
			o.paused[sessionID] = handle.job
		}
	}

	session.Status = models.JobStatusPaused
	session.Phase = "paused"
	session.UpdatedAt = time.Now().UTC()
	o.appendLogLocked(sessionID, "info", "paused", "Session paused")
	o.mu.Unlock()

	if handle != nil {
		handle.signalCancel() // stop at the next suspension point
	}

	o.persistSession(session)
	return nil
}

// Resume re-enqueues a paused job at its original priority.
func (o *Orchestrator) Resume(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session id: %s", sessionID)
	}
	job, ok := o.paused[sessionID]
	if !ok || session.Status != models.JobStatusPaused {
		return fmt.Errorf("session %s is not paused", sessionID)
	}

	delete(o.paused, sessionID)
	job.Status = models.JobStatusQueued
	job.EnqueuedAt = time.Now().UTC()
	o.queues[job.Priority] = append(o.queues[job.Priority], job)

	session.Status = models.JobStatusQueued
	session.Phase = "queued"
	session.UpdatedAt = job.EnqueuedAt
	o.appendLogLocked(sessionID, "info", "queued", "Session resumed")

	return nil
}

// ListActiveSessions returns non-terminal sessions.
func (o *Orchestrator) ListActiveSessions() []*models.LiveCrawlSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	var result []*models.LiveCrawlSession
	for _, s := range o.sessions {
		if !s.Status.IsTerminal() {
			clone := *s
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// GetSession returns a copy of one session.
func (o *Orchestrator) GetSession(sessionID string) (*models.LiveCrawlSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session id: %s", sessionID)
	}
	clone := *session
	return &clone, nil
}

// GetSessionLogs returns up to limit log lines for a session, oldest first.
func (o *Orchestrator) GetSessionLogs(sessionID string, limit int) ([]models.SessionLog, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("unknown session id: %s", sessionID)
	}
	logs := o.sessionLogs[sessionID]
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	result := make([]models.SessionLog, len(logs))
	copy(result, logs)
	return result, nil
}

// Shutdown cancels all workers and waits up to timeout for drains.
func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil
	}
	o.shuttingDown = true
	handles := make([]*workerHandle, 0, len(o.workers))
	for _, h := range o.workers {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	close(o.stopCh)

	for _, h := range handles {
		h.signalCancel()
	}

	drained := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.done
		}
		o.loopsWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		o.logger.Info().Msg("Orchestrator shutdown complete")
		return nil
	case <-time.After(timeout):
		o.logger.Warn().Dur("timeout", timeout).Msg("Orchestrator shutdown timed out waiting for workers")
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// ---- ProgressSink ----

// Update applies a worker progress update through the single writer path.
// Progress is monotone while the session is not paused or cancelled.
func (o *Orchestrator) Update(update models.ProgressUpdate) {
	o.updateSession(update)
}

// Log appends a session log line.
func (o *Orchestrator) Log(sessionID, level, phase, message string) {
	o.mu.Lock()
	o.appendLogLocked(sessionID, level, phase, message)
	o.mu.Unlock()
}

func (o *Orchestrator) updateSession(update models.ProgressUpdate) {
	o.mu.Lock()
	session, ok := o.sessions[update.SessionID]
	if !ok {
		o.mu.Unlock()
		return
	}

	if session.Status == models.JobStatusPaused || session.Status.IsTerminal() {
		// Late worker updates never resurrect a parked or finished session
		o.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	if update.Status != "" {
		session.Status = update.Status
		if update.Status.IsRunning() && session.StartedAt == nil {
			session.StartedAt = &now
		}
	}
	if update.Phase != "" {
		session.Phase = update.Phase
	}
	if update.Progress > session.Progress {
		session.Progress = update.Progress
	}
	if update.CurrentURL != "" {
		session.CurrentURL = update.CurrentURL
	}
	if update.PagesVisited > session.PagesVisited {
		session.PagesVisited = update.PagesVisited
	}
	if update.FilesDownloaded > session.FilesDownloaded {
		session.FilesDownloaded = update.FilesDownloaded
	}
	if update.RecordsExtracted > session.RecordsExtracted {
		session.RecordsExtracted = update.RecordsExtracted
	}
	if update.ErrorCount > session.ErrorCount {
		session.ErrorCount = update.ErrorCount
	}
	if update.FirstError != "" && session.FirstError == "" {
		session.FirstError = update.FirstError
	}
	session.UpdatedAt = now

	if update.Message != "" {
		o.appendLogLocked(update.SessionID, "info", session.Phase, update.Message)
	}
	clone := *session
	o.mu.Unlock()

	o.persistSession(&clone)
}

func (o *Orchestrator) appendLogLocked(sessionID, level, phase, message string) {
	logs := o.sessionLogs[sessionID]
	if len(logs) >= sessionLogLimit {
		logs = logs[1:]
	}
	o.sessionLogs[sessionID] = append(logs, models.SessionLog{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Phase:     phase,
		Message:   message,
	})
}

// ---- background loops ----

// jobLoop pops one job per tick from the highest non-empty queue when
// resources and the worker bound permit, and ages waiting jobs.
func (o *Orchestrator) jobLoop() {
	defer o.loopsWG.Done()

	ticker := time.NewTicker(o.config.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.promoteAgedJobs()
			o.dispatchOne()
		}
	}
}

func (o *Orchestrator) dispatchOne() {
	o.mu.Lock()
	if o.shuttingDown || len(o.workers) >= o.config.MaxWorkers || !o.monitor.Permits() {
		// Backpressure: skip spawning until the next tick
		o.mu.Unlock()
		return
	}

	job := o.popNextLocked()
	if job == nil {
		o.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := newWorkerHandle(job, cancel)
	o.workers[job.SessionID] = handle
	if session, ok := o.sessions[job.SessionID]; ok {
		session.Status = models.JobStatusInitializing
		session.Phase = "initializing"
		session.WorkerID = handle.workerID
		session.UpdatedAt = time.Now().UTC()
	}
	o.mu.Unlock()

	mode := o.selectMode(job)

	o.logger.Info().
		Str("session_id", job.SessionID).
		Str("worker_id", handle.workerID).
		Str("mode", string(mode.Kind)).
		Msg("Worker spawned")

	go o.runWorker(ctx, handle, mode)
}

// selectMode picks the crawl mode. A requested discovery mode is used without
// consulting the learning engine; otherwise the engine's recommendation is
// used, with discovery when the recommendation fails. A requested hybrid mode
// wraps a non-hybrid recommendation as primary with a discovery fallback. A
// requested targeted or reverse mode does not change the recommendation.
func (o *Orchestrator) selectMode(job *models.Job) models.CrawlMode {
	if job.RequestedMode == models.ModeDiscovery {
		return models.DiscoveryMode(job.Constraints.MaxDepth, 5*time.Minute)
	}

	rec, err := o.learning.RecommendStrategy(context.Background(), job.SiteKey, job.Year)
	if err != nil || rec == nil {
		if err != nil {
			o.logger.Warn().Err(err).Str("site_key", job.SiteKey).Msg("Recommendation failed - using discovery")
		}
		return models.DiscoveryMode(job.Constraints.MaxDepth, 5*time.Minute)
	}

	mode := rec.Mode
	if job.RequestedMode == models.ModeHybrid && mode.Kind != models.ModeHybrid {
		mode = models.HybridMode(mode, models.DiscoveryMode(job.Constraints.MaxDepth, 5*time.Minute))
	}

	o.Log(job.SessionID, "info", "searching", fmt.Sprintf("Strategy %s (%s)", mode.Kind, rec.Rationale))
	return mode
}

// popNextLocked removes the head of the highest non-empty priority queue.
// Ties within a priority are FIFO. Caller holds mu.
func (o *Orchestrator) popNextLocked() *models.Job {
	for priority := range o.queues {
		if len(o.queues[priority]) > 0 {
			job := o.queues[priority][0]
			o.queues[priority] = o.queues[priority][1:]
			return job
		}
	}
	return nil
}

// promoteAgedJobs lifts jobs waiting past the aging threshold one priority
// tier, capped at High. Critical is never a promotion target or source.
func (o *Orchestrator) promoteAgedJobs() {
	threshold := time.Duration(o.config.AgingMinutes) * time.Minute
	if threshold <= 0 {
		return
	}
	now := time.Now().UTC()

	o.mu.Lock()
	defer o.mu.Unlock()

	for priority := int(models.PriorityLow); priority > int(models.PriorityHigh); priority-- {
		var keep []*models.Job
		for _, job := range o.queues[priority] {
			if now.Sub(job.EnqueuedAt) > threshold {
				job.Priority = models.JobPriority(priority - 1)
				job.EnqueuedAt = now
				o.queues[priority-1] = append(o.queues[priority-1], job)
				o.logger.Debug().
					Str("job_id", job.ID).
					Str("new_priority", job.Priority.String()).
					Msg("Job promoted by aging policy")
			} else {
				keep = append(keep, job)
			}
		}
		o.queues[priority] = keep
	}
}

// resourceLoop refreshes the resource monitor.
func (o *Orchestrator) resourceLoop() {
	defer o.loopsWG.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	o.monitor.Sample()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.monitor.Sample()
		}
	}
}

// scheduledLoop releases due scheduled jobs into their priority queues.
// Release does not bypass the worker bound; released jobs queue normally.
func (o *Orchestrator) scheduledLoop() {
	defer o.loopsWG.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			o.mu.Lock()
			var remaining []*models.Job
			for _, job := range o.scheduled {
				if job.ScheduledFor != nil && !job.ScheduledFor.After(now) {
					job.EnqueuedAt = now
					o.queues[job.Priority] = append(o.queues[job.Priority], job)
					if session, ok := o.sessions[job.SessionID]; ok {
						session.Phase = "queued"
						session.UpdatedAt = now
					}
					o.logger.Info().Str("job_id", job.ID).Msg("Scheduled job released")
				} else {
					remaining = append(remaining, job)
				}
			}
			o.scheduled = remaining
			o.mu.Unlock()
		}
	}
}

// metricsLoop logs periodic throughput and saturation readings.
func (o *Orchestrator) metricsLoop() {
	defer o.loopsWG.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.mu.Lock()
			queued := 0
			for _, q := range o.queues {
				queued += len(q)
			}
			active := len(o.workers)
			avg := o.avgJobTimeLocked()
			o.mu.Unlock()

			cpuPct, memPct := o.monitor.Readings()
			o.logger.Info().
				Int("queued", queued).
				Int("active_workers", active).
				Dur("avg_job_time", avg).
				Float64("cpu_pct", cpuPct).
				Float64("mem_pct", memPct).
				Msg("Orchestrator metrics")
		}
	}
}

// ---- completion and failure ----

func (o *Orchestrator) completeJob(handle *workerHandle, result *models.CrawlResult, start time.Time) {
	now := time.Now().UTC()

	o.mu.Lock()
	session, ok := o.sessions[handle.sessionID]
	if ok && !session.Status.IsTerminal() && session.Status != models.JobStatusPaused {
		session.Status = models.JobStatusCompleted
		session.Phase = "completed"
		session.Progress = 100
		session.FinishedAt = &now
		session.UpdatedAt = now
		if result != nil {
			session.PagesVisited = maxInt(session.PagesVisited, len(result.SuccessfulURLs))
			session.FilesDownloaded = maxInt(session.FilesDownloaded, len(result.DownloadedFiles))
			session.RecordsExtracted = maxInt(session.RecordsExtracted, len(result.StructuredData))
		}
		o.appendLogLocked(handle.sessionID, "info", "completed",
			fmt.Sprintf("Crawl completed in %s (confidence %.2f)", time.Since(start).Round(time.Millisecond), confidenceOf(result)))
	}
	var clone models.LiveCrawlSession
	if ok {
		clone = *session
	}
	o.mu.Unlock()

	if ok {
		o.persistSession(&clone)
	}
}

// handleWorkerFailure returns the job to its queue with an incremented retry
// count until max retries, after which the session fails.
func (o *Orchestrator) handleWorkerFailure(handle *workerHandle, crawlErr error) {
	job := handle.job
	now := time.Now().UTC()

	o.mu.Lock()
	session, ok := o.sessions[handle.sessionID]
	if !ok || session.Status.IsTerminal() || session.Status == models.JobStatusPaused {
		o.mu.Unlock()
		return
	}

	job.RetryCount++
	if job.RetryCount <= job.MaxRetries {
		job.Status = models.JobStatusQueued
		job.EnqueuedAt = now
		o.queues[job.Priority] = append(o.queues[job.Priority], job)
		session.Status = models.JobStatusQueued
		session.Phase = "queued"
		session.ErrorCount++
		if session.FirstError == "" {
			session.FirstError = crawlErr.Error()
		}
		session.UpdatedAt = now
		o.appendLogLocked(handle.sessionID, "warn", "queued",
			fmt.Sprintf("Worker failed (retry %d/%d): %v", job.RetryCount, job.MaxRetries, crawlErr))
		o.mu.Unlock()
		return
	}

	session.Status = models.JobStatusFailed
	session.Phase = "failed"
	session.FinishedAt = &now
	session.UpdatedAt = now
	session.ErrorCount++
	if session.FirstError == "" {
		session.FirstError = crawlErr.Error()
	}
	o.appendLogLocked(handle.sessionID, "error", "failed",
		fmt.Sprintf("Job failed after %d retries: %v", job.MaxRetries, crawlErr))
	clone := *session
	o.mu.Unlock()

	o.persistSession(&clone)
}

// ---- helpers ----

func (o *Orchestrator) removeWorker(sessionID string) {
	o.mu.Lock()
	delete(o.workers, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) recordJobTime(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobTimes = append(o.jobTimes, d)
	if len(o.jobTimes) > jobTimeWindow {
		o.jobTimes = o.jobTimes[1:]
	}
}

// avgJobTimeLocked returns the running mean over recent completed jobs,
// defaulting before any data. Caller holds mu.
func (o *Orchestrator) avgJobTimeLocked() time.Duration {
	if len(o.jobTimes) == 0 {
		return time.Duration(o.config.DefaultJobSecs) * time.Second
	}
	var total time.Duration
	for _, d := range o.jobTimes {
		total += d
	}
	return total / time.Duration(len(o.jobTimes))
}

// queuePositionLocked is the job's 1-based position across queues in pop
// order. Caller holds mu.
func (o *Orchestrator) queuePositionLocked(job *models.Job) int {
	position := 0
	for priority := 0; priority <= int(job.Priority); priority++ {
		for _, queued := range o.queues[priority] {
			position++
			if queued.ID == job.ID {
				return position
			}
		}
	}
	return position + 1
}

func (o *Orchestrator) findQueuedJobLocked(jobID string) *models.Job {
	for priority := range o.queues {
		for _, job := range o.queues[priority] {
			if job.ID == jobID {
				return job
			}
		}
	}
	return nil
}

func (o *Orchestrator) removeFromQueuesLocked(jobID string) {
	for priority := range o.queues {
		for i, job := range o.queues[priority] {
			if job.ID == jobID {
				o.queues[priority] = append(o.queues[priority][:i], o.queues[priority][i+1:]...)
				return
			}
		}
	}
	for i, job := range o.scheduled {
		if job.ID == jobID {
			o.scheduled = append(o.scheduled[:i], o.scheduled[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) persistJob(job *models.Job) {
	if o.storage == nil {
		return
	}
	if err := o.storage.JobStorage().SaveJob(context.Background(), job); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

func (o *Orchestrator) persistSession(session *models.LiveCrawlSession) {
	if o.storage == nil {
		return
	}
	if err := o.storage.SessionStorage().SaveSession(context.Background(), session); err != nil {
		o.logger.Warn().Err(err).Str("session_id", session.SessionID).Msg("Failed to persist session")
	}
}

func confidenceOf(result *models.CrawlResult) float64 {
	if result == nil {
		return 0
	}
	return result.SuccessConfidence
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
