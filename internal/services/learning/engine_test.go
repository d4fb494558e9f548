package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/models"
)

func newTestEngine() *Engine {
	return NewEngine(nil, common.GetLogger())
}

func successResult(siteKey string, urls ...string) *models.CrawlResult {
	return &models.CrawlResult{
		SiteKey:        siteKey,
		SuccessfulURLs: urls,
	}
}

func TestLearnFromSuccessCreatesYearPattern(t *testing.T) {
	e := newTestEngine()

	err := e.LearnFromSuccess(context.Background(), successResult("example-dno",
		"https://example-dno.de/downloads/2023/netzentgelte.pdf",
		"https://example-dno.de/downloads/2024/netzentgelte.pdf",
	))
	require.NoError(t, err)

	patterns, err := e.GetPatterns(context.Background(), "example-dno")
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	p := patterns[0]
	assert.Equal(t, models.PatternKindURL, p.Kind)
	assert.Contains(t, p.Template, "{year}")
	require.Len(t, p.Variables, 1)
	assert.Equal(t, models.VariableYear, p.Variables[0].Kind)

	rendered, ok := SubstituteYear(p, 2025)
	require.True(t, ok)
	assert.Equal(t, "https://example-dno.de/downloads/2025/netzentgelte.pdf", rendered)
}

func TestLearnFromSuccessSingleURLWithYear(t *testing.T) {
	e := newTestEngine()

	err := e.LearnFromSuccess(context.Background(), successResult("example-dno",
		"https://example-dno.de/files/netzentgelte-2024.pdf",
	))
	require.NoError(t, err)

	patterns, _ := e.GetPatterns(context.Background(), "example-dno")
	require.NotEmpty(t, patterns)
	assert.Contains(t, patterns[0].Template, "{year}")
}

func TestConfidenceBoundsAndMonotonicity(t *testing.T) {
	now := time.Now().UTC()

	// Always in [0, 1]
	for successes := 0; successes <= 50; successes += 5 {
		for failures := 0; failures <= 50; failures += 5 {
			c := computeConfidence(successes, failures, &now, now)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
		}
	}

	// More successes -> higher confidence
	low := computeConfidence(1, 5, &now, now)
	high := computeConfidence(10, 5, &now, now)
	assert.Greater(t, high, low)

	// Stale success decays
	old := now.AddDate(0, 0, -180)
	fresh := computeConfidence(10, 0, &now, now)
	stale := computeConfidence(10, 0, &old, now)
	assert.Greater(t, fresh, stale)
}

func TestFailureReducesConfidence(t *testing.T) {
	e := newTestEngine()

	require.NoError(t, e.LearnFromSuccess(context.Background(), successResult("example-dno",
		"https://example-dno.de/d/2023/a.pdf",
		"https://example-dno.de/d/2024/a.pdf",
	)))

	patterns, _ := e.GetPatterns(context.Background(), "example-dno")
	require.NotEmpty(t, patterns)
	before := patterns[0].Confidence

	require.NoError(t, e.LearnFromFailure(context.Background(), "example-dno", []string{patterns[0].ID}, "404"))

	patterns, _ = e.GetPatterns(context.Background(), "example-dno")
	assert.Less(t, patterns[0].Confidence, before)
}

func TestVerifiedPatternConfidenceFloor(t *testing.T) {
	e := newTestEngine()

	require.NoError(t, e.LearnFromSuccess(context.Background(), successResult("example-dno",
		"https://example-dno.de/d/2023/a.pdf",
		"https://example-dno.de/d/2024/a.pdf",
	)))
	patterns, _ := e.GetPatterns(context.Background(), "example-dno")
	require.NotEmpty(t, patterns)

	// Pile on failures, then verify
	for i := 0; i < 20; i++ {
		require.NoError(t, e.LearnFromFailure(context.Background(), "example-dno", []string{patterns[0].ID}, "failure"))
	}
	require.NoError(t, e.VerifyPattern(context.Background(), patterns[0].ID, models.VerificationVerified))

	patterns, _ = e.GetPatterns(context.Background(), "example-dno")
	assert.GreaterOrEqual(t, patterns[0].EffectiveConfidence(), 0.95)
}

func TestRecommendDiscoveryWithoutPatterns(t *testing.T) {
	e := newTestEngine()

	rec, err := e.RecommendStrategy(context.Background(), "unknown-dno", 2024)
	require.NoError(t, err)
	assert.Equal(t, models.ModeDiscovery, rec.Mode.Kind)
	assert.Equal(t, 3, rec.Mode.MaxDepth)
	assert.Equal(t, 5*time.Minute, rec.Mode.Budget)
}

func TestRecommendTargetedWithQualifyingPatterns(t *testing.T) {
	e := newTestEngine()

	// Enough successes to clear the 0.7 threshold
	for i := 0; i < 10; i++ {
		require.NoError(t, e.LearnFromSuccess(context.Background(), successResult("example-dno",
			"https://example-dno.de/d/2023/a.pdf",
			"https://example-dno.de/d/2024/a.pdf",
		)))
	}

	rec, err := e.RecommendStrategy(context.Background(), "example-dno", 2025)
	require.NoError(t, err)
	assert.Equal(t, models.ModeTargeted, rec.Mode.Kind)
	assert.Equal(t, 0.7, rec.Mode.Threshold)
	assert.NotEmpty(t, rec.Mode.Patterns)
}

func TestRecommendHybridWithVerifiedSubset(t *testing.T) {
	e := newTestEngine()

	for i := 0; i < 10; i++ {
		require.NoError(t, e.LearnFromSuccess(context.Background(), successResult("example-dno",
			"https://example-dno.de/d/2023/a.pdf",
			"https://example-dno.de/d/2024/a.pdf",
		)))
		require.NoError(t, e.LearnFromSuccess(context.Background(), successResult("example-dno",
			"https://example-dno.de/archive/2023.pdf",
			"https://example-dno.de/archive/2024.pdf",
		)))
	}

	patterns, _ := e.GetPatterns(context.Background(), "example-dno")
	require.GreaterOrEqual(t, len(patterns), 2)
	require.NoError(t, e.VerifyPattern(context.Background(), patterns[0].ID, models.VerificationVerified))

	rec, err := e.RecommendStrategy(context.Background(), "example-dno", 2025)
	require.NoError(t, err)
	assert.Equal(t, models.ModeHybrid, rec.Mode.Kind)
	require.NotNil(t, rec.Mode.Primary)
	assert.Equal(t, models.ModeTargeted, rec.Mode.Primary.Kind)
	// Primary carries only verified patterns
	for _, p := range rec.Mode.Primary.Patterns {
		assert.Equal(t, models.VerificationVerified, p.Verification)
	}
}

func TestTemporalPatternSynthesis(t *testing.T) {
	patterns := synthesizeTemporalPatterns("example-dno", []string{
		"https://example-dno.de/d/2023/a.pdf",
		"https://example-dno.de/d/2024/a.pdf",
		"https://example-dno.de/other/page",
	})

	require.NotEmpty(t, patterns)
	var yearPattern *models.TemporalPattern
	for _, tp := range patterns {
		if tp.Kind == models.TemporalYear {
			yearPattern = tp
		}
	}
	require.NotNil(t, yearPattern)
	assert.Equal(t, 2, yearPattern.MatchCount)
	assert.NotEmpty(t, yearPattern.ExampleMatches)
}

func TestArchiveStructureSynthesis(t *testing.T) {
	structures := synthesizeArchiveStructures("example-dno", []string{
		"https://example-dno.de/downloads/2023/a.pdf",
		"https://example-dno.de/downloads/2024/b.pdf",
	})

	require.Len(t, structures, 1)
	s := structures[0]
	assert.Equal(t, "example-dno.de", s.Host)
	assert.Equal(t, "/downloads", s.CommonPrefix)
	assert.Equal(t, models.OrgByYear, s.Organization)
}

func TestRepeatSuccessIncrementsExistingPattern(t *testing.T) {
	e := newTestEngine()

	result := successResult("example-dno",
		"https://example-dno.de/d/2023/a.pdf",
		"https://example-dno.de/d/2024/a.pdf",
	)
	require.NoError(t, e.LearnFromSuccess(context.Background(), result))
	require.NoError(t, e.LearnFromSuccess(context.Background(), result))

	patterns, _ := e.GetPatterns(context.Background(), "example-dno")
	require.Len(t, patterns, 1, "matching metadata updates the existing record")
	assert.Equal(t, 2, patterns[0].SuccessCount)
}
