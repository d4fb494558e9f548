package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
)

func TestClassifyByStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   FailureType
	}{
		{404, FailureNotFound},
		{410, FailureNotFound},
		{401, FailureAccessDenied},
		{403, FailureAccessDenied},
		{408, FailureTimeout},
		{504, FailureTimeout},
		{500, FailureServerError},
		{503, FailureServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(nil, tt.status), "status %d", tt.status)
	}
}

func TestClassifyByErrorKind(t *testing.T) {
	assert.Equal(t, FailureTimeout, Classify(context.DeadlineExceeded, 0))
	assert.Equal(t, FailureParse, Classify(errors.New("invalid json payload"), 0))
	assert.Equal(t, FailureNetwork, Classify(errors.New("connection refused"), 0))
	assert.Equal(t, FailureUnknown, Classify(errors.New("something odd"), 0))
}

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		failure  FailureType
		attempts int
		want     ActionKind
	}{
		{FailureTimeout, 0, ActionRetryWithBackoff},
		{FailureTimeout, 2, ActionRetryWithBackoff},
		{FailureTimeout, 3, ActionUseAlternativeURL},
		{FailureNotFound, 0, ActionUseAlternativeURL},
		{FailureAccessDenied, 0, ActionManualIntervention},
		{FailureServerError, 0, ActionRetryWithBackoff},
		{FailureServerError, 1, ActionRetryWithBackoff},
		{FailureServerError, 2, ActionSimplifyStrategy},
		{FailureNetwork, 5, ActionRetryWithBackoff},
		{FailureParse, 0, ActionChangeExtraction},
		{FailureUnknown, 0, ActionSimplifyStrategy},
	}
	for _, tt := range tests {
		action := decide(tt.failure, tt.attempts, "table_extraction")
		assert.Equal(t, tt.want, action.Kind, "%s after %d attempts", tt.failure, tt.attempts)
	}
}

func TestBackoffParameters(t *testing.T) {
	timeout := decide(FailureTimeout, 0, "")
	assert.Equal(t, 3, timeout.MaxRetries)
	assert.Equal(t, 2*time.Second, timeout.BaseDelay)

	server := decide(FailureServerError, 0, "")
	assert.Equal(t, 2, server.MaxRetries)
	assert.Equal(t, 5*time.Second, server.BaseDelay)

	network := decide(FailureNetwork, 0, "")
	assert.Equal(t, 3, network.MaxRetries)
	assert.Equal(t, time.Second, network.BaseDelay)
}

func TestFourthTimeoutYieldsAlternativeURL(t *testing.T) {
	e := NewEngine(common.GetLogger())
	url := "https://example-dno.de/netzentgelte.pdf"
	timeoutErr := fmt.Errorf("request timeout")

	for i := 0; i < 3; i++ {
		action := e.Recover(url, timeoutErr, 0, "")
		assert.Equal(t, ActionRetryWithBackoff, action.Kind, "attempt %d", i+1)
	}

	action := e.Recover(url, timeoutErr, 0, "")
	assert.Equal(t, ActionUseAlternativeURL, action.Kind)
	assert.NotEmpty(t, action.Alternative)
}

func TestSuccessResetsEscalation(t *testing.T) {
	e := NewEngine(common.GetLogger())
	url := "https://example-dno.de/a.pdf"
	timeoutErr := fmt.Errorf("timeout")

	for i := 0; i < 3; i++ {
		e.Recover(url, timeoutErr, 0, "")
	}
	e.RecordOutcome(url, true)

	action := e.Recover(url, timeoutErr, 0, "")
	assert.Equal(t, ActionRetryWithBackoff, action.Kind)
}

func TestExtractionMethodRotation(t *testing.T) {
	assert.Equal(t, "text_parsing", nextExtractionMethod("table_extraction"))
	assert.Equal(t, "pdf_analysis", nextExtractionMethod("text_parsing"))
	assert.Equal(t, "ocr", nextExtractionMethod("pdf_analysis"))
	assert.Equal(t, "table_extraction", nextExtractionMethod("ocr"))
	assert.Equal(t, "table_extraction", nextExtractionMethod("unknown"))
}

func TestSynthesizeAlternatives(t *testing.T) {
	alts := SynthesizeAlternatives("https://example-dno.de/netzentgelte/2024.pdf")
	require.NotEmpty(t, alts)
	assert.Equal(t, "https://www.example-dno.de/netzentgelte/2024.pdf", alts[0])
	assert.Contains(t, alts, "https://example-dno.de/downloads/netzentgelte/2024.pdf")
	assert.Contains(t, alts, "https://example-dno.de/archive/netzentgelte/2024.pdf")

	// www is stripped, not doubled
	alts = SynthesizeAlternatives("https://www.example-dno.de/a.pdf")
	assert.Equal(t, "https://example-dno.de/a.pdf", alts[0])
}

func TestRecordedAlternativesPreferred(t *testing.T) {
	e := NewEngine(common.GetLogger())
	url := "https://example-dno.de/missing.pdf"
	e.AddAlternative(url, "https://example-dno.de/found.pdf")

	action := e.Recover(url, fmt.Errorf("not found"), 404, "")
	assert.Equal(t, ActionUseAlternativeURL, action.Kind)
	assert.Equal(t, "https://example-dno.de/found.pdf", action.Alternative)
}

func TestAttemptHistoryRecorded(t *testing.T) {
	e := NewEngine(common.GetLogger())
	url := "https://example-dno.de/h.pdf"

	e.Recover(url, fmt.Errorf("timeout"), 0, "")
	e.Recover(url, fmt.Errorf("500 server error"), 500, "")

	history := e.AttemptHistory(url)
	require.Len(t, history, 2)
	assert.Equal(t, FailureTimeout, history[0].Failure)
	assert.Equal(t, FailureServerError, history[1].Failure)
	assert.False(t, history[0].Timestamp.After(history[1].Timestamp))
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(2*time.Second, 0))
	assert.Equal(t, 4*time.Second, Backoff(2*time.Second, 1))
	assert.Equal(t, 8*time.Second, Backoff(2*time.Second, 2))
}

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	action := Action{Kind: ActionRetryWithBackoff, MaxRetries: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := WithRetry(context.Background(), action, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
