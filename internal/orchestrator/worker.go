package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/graben/internal/models"
)

// workerHandle tracks one running worker.
type workerHandle struct {
	workerID  string
	sessionID string
	job       *models.Job
	cancel    context.CancelFunc
	cancelled chan struct{} // closed exactly once on cancellation request
	done      chan struct{} // closed when the worker goroutine exits
	pausing   bool
}

// newWorkerHandle creates a handle with its one-shot cancel channel.
func newWorkerHandle(job *models.Job, cancel context.CancelFunc) *workerHandle {
	return &workerHandle{
		workerID:  "worker_" + uuid.New().String()[:8],
		sessionID: job.SessionID,
		job:       job,
		cancel:    cancel,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// signalCancel requests cancellation. Idempotent.
func (w *workerHandle) signalCancel() {
	select {
	case <-w.cancelled:
		// already signalled
	default:
		close(w.cancelled)
		w.cancel()
	}
}

// runWorker executes the job's crawl in its own goroutine. A worker crash is
// translated to a job failure; all state the orchestrator needs has already
// travelled through the progress sink.
func (o *Orchestrator) runWorker(ctx context.Context, handle *workerHandle, mode models.CrawlMode) {
	defer close(handle.done)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("session_id", handle.sessionID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Worker crashed")
			o.handleWorkerFailure(handle, fmt.Errorf("worker panic: %v", r))
			o.removeWorker(handle.sessionID)
		}
	}()

	job := handle.job

	o.updateSession(models.ProgressUpdate{
		SessionID: handle.sessionID,
		Status:    models.JobStatusInitializing,
		Phase:     "initializing",
		Message:   fmt.Sprintf("Worker %s starting %s crawl", handle.workerID, mode.Kind),
	})

	start := time.Now()
	result, err := o.crawler.Crawl(ctx, job, mode, o)

	// Cancellation or pause requested: the worker exits cleanly with one
	// final log; the orchestrator already set the session status.
	select {
	case <-handle.cancelled:
		if handle.pausing {
			o.Log(handle.sessionID, "info", "paused", "Worker stopped: paused")
		} else {
			o.Log(handle.sessionID, "info", "cancelled", "Worker stopped: cancelled")
		}
		o.finishWorker(handle, result, start, nil, true)
		return
	default:
	}

	if err != nil {
		o.handleWorkerFailure(handle, err)
		o.finishWorker(handle, result, start, err, false)
		return
	}

	o.completeJob(handle, result, start)
	o.finishWorker(handle, result, start, nil, false)
}

// finishWorker feeds learning and records timing. Partial results of failed
// or cancelled sessions are preserved.
func (o *Orchestrator) finishWorker(handle *workerHandle, result *models.CrawlResult, start time.Time, crawlErr error, cancelled bool) {
	if result != nil && len(result.SuccessfulURLs) > 0 {
		if err := o.learning.LearnFromSuccess(context.Background(), result); err != nil {
			o.logger.Warn().Err(err).Str("session_id", handle.sessionID).Msg("Learning ingestion failed")
		}
	}
	if crawlErr != nil && !cancelled {
		// No pattern IDs are passed for any mode, so this call changes no
		// pattern's failure count or confidence.
		if err := o.learning.LearnFromFailure(context.Background(), handle.job.SiteKey, nil, crawlErr.Error()); err != nil {
			o.logger.Warn().Err(err).Str("session_id", handle.sessionID).Msg("Failure ingestion failed")
		}
	}

	o.recordJobTime(time.Since(start))
	o.removeWorker(handle.sessionID)
}
