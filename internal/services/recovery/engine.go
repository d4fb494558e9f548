// -----------------------------------------------------------------------
// Last Modified: Saturday, 1st August 2026 10:03:12 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// FailureType is the closed classification of crawl errors.
type FailureType string

const (
	FailureTimeout      FailureType = "timeout"
	FailureNotFound     FailureType = "not_found"
	FailureAccessDenied FailureType = "access_denied"
	FailureServerError  FailureType = "server_error"
	FailureNetwork      FailureType = "network_error"
	FailureParse        FailureType = "parse_error"
	FailureUnknown      FailureType = "unknown"
)

// ActionKind is the closed set of recovery actions.
type ActionKind string

const (
	ActionRetryWithBackoff    ActionKind = "retry_with_backoff"
	ActionUseAlternativeURL   ActionKind = "use_alternative_url"
	ActionSimplifyStrategy    ActionKind = "simplify_strategy"
	ActionChangeExtraction    ActionKind = "change_extraction_method"
	ActionManualIntervention  ActionKind = "require_manual_intervention"
)

// ExtractionMethods is the rotation order for ChangeExtractionMethod.
var ExtractionMethods = []string{"table_extraction", "text_parsing", "pdf_analysis", "ocr"}

// Action is the recovery engine's decision for one failure.
type Action struct {
	Kind        ActionKind    `json:"kind"`
	MaxRetries  int           `json:"max_retries,omitempty"`
	BaseDelay   time.Duration `json:"base_delay,omitempty"`
	Alternative string        `json:"alternative,omitempty"`
	NextMethod  string        `json:"next_method,omitempty"`
}

// Attempt is one recorded recovery attempt for a URL.
type Attempt struct {
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error"`
	Failure   FailureType `json:"failure"`
	Action    ActionKind  `json:"action"`
	Success   bool        `json:"success"`
}

// Engine classifies errors and chooses recovery actions per the decision
// table. Attempt history is kept per URL so repeated failures escalate.
type Engine struct {
	mu       sync.Mutex
	attempts map[string][]Attempt // url -> history
	altURLs  map[string][]string  // url -> known alternatives
	logger   arbor.ILogger
}

// NewEngine creates a failure-recovery engine.
func NewEngine(logger arbor.ILogger) *Engine {
	return &Engine{
		attempts: make(map[string][]Attempt),
		altURLs:  make(map[string][]string),
		logger:   logger,
	}
}

// Classify maps an error to a failure type. Structured error kinds are
// inspected first; substring matching on the message is the fallback.
func Classify(err error, statusCode int) FailureType {
	if statusCode > 0 {
		switch {
		case statusCode == 404 || statusCode == 410:
			return FailureNotFound
		case statusCode == 401 || statusCode == 403:
			return FailureAccessDenied
		case statusCode == 408 || statusCode == 504:
			return FailureTimeout
		case statusCode >= 500:
			return FailureServerError
		}
	}

	if err == nil {
		return FailureUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return FailureTimeout
	case strings.Contains(msg, "not found"), strings.Contains(msg, "404"):
		return FailureNotFound
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "denied"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return FailureAccessDenied
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "server error"):
		return FailureServerError
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"), strings.Contains(msg, "refused"), strings.Contains(msg, "reset"):
		return FailureNetwork
	case strings.Contains(msg, "parse"), strings.Contains(msg, "invalid json"), strings.Contains(msg, "unmarshal"), strings.Contains(msg, "syntax"):
		return FailureParse
	}
	return FailureUnknown
}

// Recover classifies the error, records the attempt and returns the recovery
// action per the decision table. currentMethod selects the rotation point for
// ChangeExtractionMethod.
func (e *Engine) Recover(rawURL string, err error, statusCode int, currentMethod string) Action {
	failure := Classify(err, statusCode)

	e.mu.Lock()
	priorSameFailure := 0
	for _, a := range e.attempts[rawURL] {
		if a.Failure == failure {
			priorSameFailure++
		}
	}

	action := decide(failure, priorSameFailure, currentMethod)
	if action.Kind == ActionUseAlternativeURL {
		action.Alternative = e.nextAlternativeLocked(rawURL)
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	e.attempts[rawURL] = append(e.attempts[rawURL], Attempt{
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
		Failure:   failure,
		Action:    action.Kind,
	})
	e.mu.Unlock()

	e.logger.Debug().
		Str("url", rawURL).
		Str("failure", string(failure)).
		Str("action", string(action.Kind)).
		Int("prior_attempts", priorSameFailure).
		Msg("Recovery decision")

	return action
}

// decide implements the decision table.
func decide(failure FailureType, attemptsSoFar int, currentMethod string) Action {
	switch failure {
	case FailureTimeout:
		if attemptsSoFar < 3 {
			return Action{Kind: ActionRetryWithBackoff, MaxRetries: 3, BaseDelay: 2 * time.Second}
		}
		return Action{Kind: ActionUseAlternativeURL}
	case FailureNotFound:
		return Action{Kind: ActionUseAlternativeURL}
	case FailureAccessDenied:
		return Action{Kind: ActionManualIntervention}
	case FailureServerError:
		if attemptsSoFar < 2 {
			return Action{Kind: ActionRetryWithBackoff, MaxRetries: 2, BaseDelay: 5 * time.Second}
		}
		return Action{Kind: ActionSimplifyStrategy}
	case FailureNetwork:
		return Action{Kind: ActionRetryWithBackoff, MaxRetries: 3, BaseDelay: time.Second}
	case FailureParse:
		return Action{Kind: ActionChangeExtraction, NextMethod: nextExtractionMethod(currentMethod)}
	}
	return Action{Kind: ActionSimplifyStrategy}
}

// nextExtractionMethod rotates through the extraction method list.
func nextExtractionMethod(current string) string {
	for i, m := range ExtractionMethods {
		if m == current {
			return ExtractionMethods[(i+1)%len(ExtractionMethods)]
		}
	}
	return ExtractionMethods[0]
}

// RecordOutcome marks the most recent attempt for a URL as succeeded or not.
func (e *Engine) RecordOutcome(rawURL string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.attempts[rawURL]
	if len(history) == 0 {
		return
	}
	history[len(history)-1].Success = success
	if success {
		// A success resets the escalation ladder for this URL
		e.attempts[rawURL] = nil
	}
}

// AddAlternative registers a known-good alternative for a URL.
func (e *Engine) AddAlternative(rawURL, alternative string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.altURLs[rawURL] = append(e.altURLs[rawURL], alternative)
}

// AttemptHistory returns a copy of the recorded attempts for a URL.
func (e *Engine) AttemptHistory(rawURL string) []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := make([]Attempt, len(e.attempts[rawURL]))
	copy(history, e.attempts[rawURL])
	return history
}

// Backoff computes the exponential delay before the given retry attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// nextAlternativeLocked pops a recorded alternative or synthesizes one.
// Caller holds mu.
func (e *Engine) nextAlternativeLocked(rawURL string) string {
	if alts := e.altURLs[rawURL]; len(alts) > 0 {
		alt := alts[0]
		e.altURLs[rawURL] = alts[1:]
		return alt
	}
	synthesized := SynthesizeAlternatives(rawURL)
	if len(synthesized) == 0 {
		return ""
	}
	e.altURLs[rawURL] = synthesized[1:]
	return synthesized[0]
}

// SynthesizeAlternatives rewrites a URL with/without www. and with common
// download path prefixes.
func SynthesizeAlternatives(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	var alternatives []string

	toggled := *u
	if strings.HasPrefix(u.Host, "www.") {
		toggled.Host = strings.TrimPrefix(u.Host, "www.")
	} else {
		toggled.Host = "www." + u.Host
	}
	alternatives = append(alternatives, toggled.String())

	for _, prefix := range []string{"/downloads", "/archive", "/data", "/files"} {
		if strings.HasPrefix(u.Path, prefix) {
			continue
		}
		candidate := *u
		candidate.Path = prefix + u.Path
		alternatives = append(alternatives, candidate.String())
	}

	return alternatives
}

// WithRetry runs fn under the retry-with-backoff policy of an action,
// honoring context cancellation between attempts.
func WithRetry(ctx context.Context, action Action, fn func() error) error {
	if action.Kind != ActionRetryWithBackoff {
		return fmt.Errorf("action %s is not retryable", action.Kind)
	}

	var lastErr error
	for attempt := 0; attempt < action.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(action.BaseDelay, attempt-1)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
