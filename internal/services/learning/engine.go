// -----------------------------------------------------------------------
// Last Modified: Friday, 31st July 2026 11:05:33 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

const (
	// Beta prior for smoothed success rate: weakly optimistic
	priorAlpha = 2.0
	priorBeta  = 2.0
	// Recency decay time constant in days
	recencyTau = 90.0

	recommendThreshold = 0.7
	discoveryDepth     = 3
	discoveryBudget    = 5 * time.Minute
)

// Engine owns the pattern catalog. Single writer, many readers:
// recommendation reads never block each other.
type Engine struct {
	mu        sync.RWMutex
	patterns  map[string]*models.Pattern         // id -> pattern
	temporal  map[string]*models.TemporalPattern // id -> pattern
	archives  map[string]*models.ArchiveStructure
	bySite    map[string][]string // site key -> pattern ids

	storage interfaces.PatternStorage // optional persistence
	logger  arbor.ILogger
}

// Compile-time assertion
var _ interfaces.LearningService = (*Engine)(nil)

// NewEngine creates a learning engine with an empty catalog; LoadCatalog
// restores persisted patterns.
func NewEngine(storage interfaces.PatternStorage, logger arbor.ILogger) *Engine {
	return &Engine{
		patterns: make(map[string]*models.Pattern),
		temporal: make(map[string]*models.TemporalPattern),
		archives: make(map[string]*models.ArchiveStructure),
		bySite:   make(map[string][]string),
		storage:  storage,
		logger:   logger,
	}
}

// LoadCatalog restores persisted patterns for the given site keys.
func (e *Engine) LoadCatalog(ctx context.Context, siteKeys []string) error {
	if e.storage == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, key := range siteKeys {
		patterns, err := e.storage.ListPatterns(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load patterns for %s: %w", key, err)
		}
		for _, p := range patterns {
			e.patterns[p.ID] = p
			e.bySite[key] = append(e.bySite[key], p.ID)
		}
		temporal, err := e.storage.ListTemporalPatterns(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load temporal patterns for %s: %w", key, err)
		}
		for _, tp := range temporal {
			e.temporal[tp.ID] = tp
		}
		archives, err := e.storage.ListArchiveStructures(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load archive structures for %s: %w", key, err)
		}
		for _, a := range archives {
			e.archives[a.ID] = a
		}
	}
	return nil
}

// LearnFromSuccess ingests a completed crawl: synthesizes URL, temporal and
// archive patterns from the successful URL set and updates or creates catalog
// records, recomputing confidence.
func (e *Engine) LearnFromSuccess(ctx context.Context, result *models.CrawlResult) error {
	if result == nil || len(result.SuccessfulURLs) == 0 {
		return nil
	}

	now := time.Now().UTC()

	urlPatterns := synthesizeURLPatterns(result.SiteKey, result.SuccessfulURLs)
	temporalPatterns := synthesizeTemporalPatterns(result.SiteKey, result.SuccessfulURLs)
	archiveStructures := synthesizeArchiveStructures(result.SiteKey, result.SuccessfulURLs)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, candidate := range urlPatterns {
		existing := e.findByTemplateLocked(result.SiteKey, candidate.Template)
		if existing != nil {
			existing.SuccessCount++
			existing.LastSuccessAt = &now
			existing.UpdatedAt = now
			existing.Confidence = computeConfidence(existing.SuccessCount, existing.FailureCount, existing.LastSuccessAt, now)
			e.persistPatternLocked(ctx, existing)
			continue
		}

		candidate.ID = common.NewPatternID()
		candidate.SuccessCount = 1
		candidate.LastSuccessAt = &now
		candidate.CreatedAt = now
		candidate.UpdatedAt = now
		candidate.Verification = models.VerificationNotReviewed
		candidate.Confidence = computeConfidence(1, 0, &now, now)
		e.patterns[candidate.ID] = candidate
		e.bySite[result.SiteKey] = append(e.bySite[result.SiteKey], candidate.ID)
		e.persistPatternLocked(ctx, candidate)
	}

	for _, tp := range temporalPatterns {
		if existing := e.findTemporalLocked(result.SiteKey, tp.Kind); existing != nil {
			existing.MatchCount += tp.MatchCount
			if tp.Confidence > existing.Confidence {
				existing.Confidence = tp.Confidence
				existing.Regex = tp.Regex
				existing.Format = tp.Format
			}
			e.persistTemporalLocked(ctx, existing)
			continue
		}
		tp.ID = common.NewPatternID()
		tp.CreatedAt = now
		e.temporal[tp.ID] = tp
		e.persistTemporalLocked(ctx, tp)
	}

	for _, a := range archiveStructures {
		if existing := e.findArchiveLocked(result.SiteKey, a.Host); existing != nil {
			existing.DirectoryPaths = mergeStrings(existing.DirectoryPaths, a.DirectoryPaths)
			existing.FilenamePatterns = mergeStrings(existing.FilenamePatterns, a.FilenamePatterns)
			if a.Organization != models.OrgNone {
				existing.Organization = a.Organization
			}
			e.persistArchiveLocked(ctx, existing)
			continue
		}
		a.ID = common.NewPatternID()
		a.CreatedAt = now
		e.archives[a.ID] = a
		e.persistArchiveLocked(ctx, a)
	}

	e.logger.Info().
		Str("site_key", result.SiteKey).
		Int("urls", len(result.SuccessfulURLs)).
		Int("url_patterns", len(urlPatterns)).
		Int("temporal_patterns", len(temporalPatterns)).
		Msg("Learned from successful crawl")

	return nil
}

// LearnFromFailure increments failure counts on the referenced patterns and
// recomputes their confidence downward.
func (e *Engine) LearnFromFailure(ctx context.Context, siteKey string, patternIDs []string, reason string) error {
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range patternIDs {
		p, ok := e.patterns[id]
		if !ok {
			continue
		}
		p.FailureCount++
		p.UpdatedAt = now
		p.Confidence = computeConfidence(p.SuccessCount, p.FailureCount, p.LastSuccessAt, now)
		e.persistPatternLocked(ctx, p)

		e.logger.Debug().
			Str("pattern_id", id).
			Str("reason", reason).
			Float64("confidence", p.Confidence).
			Msg("Pattern failure recorded")
	}
	return nil
}

// RecommendStrategy picks the crawl mode for a site key and year:
//   - qualifying patterns (effective confidence >= 0.7, temporal variables
//     satisfiable for the year) -> Targeted with threshold 0.7
//   - qualifying set mixes admin-verified and unverified patterns -> Hybrid
//     with the verified subset primary (all verified stays Targeted)
//   - otherwise -> Discovery(depth 3, 5 min budget)
func (e *Engine) RecommendStrategy(ctx context.Context, siteKey string, year int) (*models.StrategyRecommendation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var qualifying []models.Pattern
	var verified []models.Pattern

	for _, id := range e.bySite[siteKey] {
		p, ok := e.patterns[id]
		if !ok || p.Verification == models.VerificationRejected {
			continue
		}
		if p.EffectiveConfidence() < recommendThreshold {
			continue
		}
		if !satisfiableForYear(p, year) {
			continue
		}
		qualifying = append(qualifying, *p)
		if p.Verification == models.VerificationVerified {
			verified = append(verified, *p)
		}
	}

	if len(qualifying) == 0 {
		return &models.StrategyRecommendation{
			Mode:       models.DiscoveryMode(discoveryDepth, discoveryBudget),
			Confidence: 0,
			Rationale:  "no qualifying patterns",
		}, nil
	}

	sort.Slice(qualifying, func(i, j int) bool {
		return qualifying[i].EffectiveConfidence() > qualifying[j].EffectiveConfidence()
	})
	best := qualifying[0].EffectiveConfidence()

	if len(verified) > 0 && len(qualifying) > len(verified) {
		sort.Slice(verified, func(i, j int) bool {
			return verified[i].EffectiveConfidence() > verified[j].EffectiveConfidence()
		})
		return &models.StrategyRecommendation{
			Mode: models.HybridMode(
				models.TargetedMode(verified, recommendThreshold),
				models.TargetedMode(qualifying, recommendThreshold),
				models.DiscoveryMode(discoveryDepth, discoveryBudget),
			),
			Confidence: best,
			Rationale:  fmt.Sprintf("%d verified of %d qualifying patterns", len(verified), len(qualifying)),
		}, nil
	}

	return &models.StrategyRecommendation{
		Mode:       models.TargetedMode(qualifying, recommendThreshold),
		Confidence: best,
		Rationale:  fmt.Sprintf("%d qualifying patterns", len(qualifying)),
	}, nil
}

// GetPatterns returns the site's patterns sorted by effective confidence.
func (e *Engine) GetPatterns(ctx context.Context, siteKey string) ([]*models.Pattern, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*models.Pattern
	for _, id := range e.bySite[siteKey] {
		if p, ok := e.patterns[id]; ok {
			clone := *p
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EffectiveConfidence() > result[j].EffectiveConfidence()
	})
	return result, nil
}

// GetTemporalPatterns returns the site's temporal patterns.
func (e *Engine) GetTemporalPatterns(ctx context.Context, siteKey string) ([]*models.TemporalPattern, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*models.TemporalPattern
	for _, tp := range e.temporal {
		if tp.SiteKey == siteKey {
			clone := *tp
			result = append(result, &clone)
		}
	}
	return result, nil
}

// GetArchiveStructures returns the site's archive structures.
func (e *Engine) GetArchiveStructures(ctx context.Context, siteKey string) ([]*models.ArchiveStructure, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*models.ArchiveStructure
	for _, a := range e.archives {
		if a.SiteKey == siteKey {
			clone := *a
			result = append(result, &clone)
		}
	}
	return result, nil
}

// RecordArchiveStructure inserts or merges an externally discovered structure
// (reverse crawler feedback).
func (e *Engine) RecordArchiveStructure(ctx context.Context, structure *models.ArchiveStructure) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing := e.findArchiveLocked(structure.SiteKey, structure.Host); existing != nil {
		existing.DirectoryPaths = mergeStrings(existing.DirectoryPaths, structure.DirectoryPaths)
		if structure.Organization != models.OrgNone {
			existing.Organization = structure.Organization
		}
		e.persistArchiveLocked(ctx, existing)
		return
	}
	structure.ID = common.NewPatternID()
	structure.CreatedAt = time.Now().UTC()
	e.archives[structure.ID] = structure
	e.persistArchiveLocked(ctx, structure)
}

// VerifyPattern applies an admin verification decision.
// Verified patterns are never auto-deprecated and floor at 0.95.
func (e *Engine) VerifyPattern(ctx context.Context, patternID string, status models.VerificationStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.patterns[patternID]
	if !ok {
		return fmt.Errorf("pattern not found: %s", patternID)
	}
	p.Verification = status
	p.UpdatedAt = time.Now().UTC()
	e.persistPatternLocked(ctx, p)
	return nil
}

// computeConfidence is the smoothed-Beta-with-recency form:
// (successes+α)/(successes+failures+α+β) × exp(-days_since_last_success/τ),
// clipped to [0, 1].
func computeConfidence(successes, failures int, lastSuccess *time.Time, now time.Time) float64 {
	rate := (float64(successes) + priorAlpha) / (float64(successes+failures) + priorAlpha + priorBeta)

	recency := 1.0
	if lastSuccess != nil {
		days := now.Sub(*lastSuccess).Hours() / 24
		if days > 0 {
			recency = math.Exp(-days / recencyTau)
		}
	}

	confidence := rate * recency
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// satisfiableForYear reports whether the pattern's temporal variables can be
// substituted for the year. Patterns without a year variable always qualify.
func satisfiableForYear(p *models.Pattern, year int) bool {
	for _, v := range p.Variables {
		if v.Kind == models.VariableYear {
			return year >= 2000 && year <= 2030
		}
	}
	return true
}

func (e *Engine) findByTemplateLocked(siteKey, template string) *models.Pattern {
	for _, id := range e.bySite[siteKey] {
		if p, ok := e.patterns[id]; ok && p.Template == template {
			return p
		}
	}
	return nil
}

func (e *Engine) findTemporalLocked(siteKey string, kind models.TemporalPatternKind) *models.TemporalPattern {
	for _, tp := range e.temporal {
		if tp.SiteKey == siteKey && tp.Kind == kind {
			return tp
		}
	}
	return nil
}

func (e *Engine) findArchiveLocked(siteKey, host string) *models.ArchiveStructure {
	for _, a := range e.archives {
		if a.SiteKey == siteKey && a.Host == host {
			return a
		}
	}
	return nil
}

func (e *Engine) persistPatternLocked(ctx context.Context, p *models.Pattern) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SavePattern(ctx, p); err != nil {
		e.logger.Warn().Err(err).Str("pattern_id", p.ID).Msg("Failed to persist pattern")
	}
}

func (e *Engine) persistTemporalLocked(ctx context.Context, tp *models.TemporalPattern) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveTemporalPattern(ctx, tp); err != nil {
		e.logger.Warn().Err(err).Str("pattern_id", tp.ID).Msg("Failed to persist temporal pattern")
	}
}

func (e *Engine) persistArchiveLocked(ctx context.Context, a *models.ArchiveStructure) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveArchiveStructure(ctx, a); err != nil {
		e.logger.Warn().Err(err).Str("structure_id", a.ID).Msg("Failed to persist archive structure")
	}
}

func mergeStrings(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}
