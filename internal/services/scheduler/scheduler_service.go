// -----------------------------------------------------------------------
// Last Modified: Saturday, 1st August 2026 7:30:18 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/orchestrator"
)

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	entryID     cron.EntryID
	lastRun     *time.Time
	lastError   string
}

// jobDefinition is one YAML-declared automated crawl.
type jobDefinition struct {
	Name        string `yaml:"name"`
	Schedule    string `yaml:"schedule"`
	Description string `yaml:"description"`
	SiteKey     string `yaml:"site_key"`
	Years       []int  `yaml:"years"`
	Origin      string `yaml:"origin"`
	Enabled     bool   `yaml:"enabled"`
}

// Service implements SchedulerService using robfig/cron. It releases
// automated crawl submissions on their schedules.
type Service struct {
	config *common.SchedulerConfig
	orch   *orchestrator.Orchestrator
	cron   *cron.Cron
	logger arbor.ILogger

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

// Compile-time assertion
var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a scheduler service.
func NewService(config *common.SchedulerConfig, orch *orchestrator.Orchestrator, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		orch:   orch,
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// Start loads job definitions and begins the cron scheduler.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.loadJobDefinitions(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load job definitions")
	}

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started (robfig/cron)")
	return nil
}

// Stop halts the scheduler and waits for in-flight handlers.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// RegisterJob adds a named cron job.
func (s *Service) RegisterJob(name, schedule, description string, handler func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		now := time.Now()
		if err := handler(); err != nil {
			s.mu.Lock()
			entry.lastError = err.Error()
			entry.lastRun = &now
			s.mu.Unlock()
			s.logger.Warn().Err(err).Str("job", name).Msg("Scheduled job failed")
			return
		}
		s.mu.Lock()
		entry.lastError = ""
		entry.lastRun = &now
		s.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}

	entry.entryID = entryID
	s.jobs[name] = entry

	s.logger.Debug().Str("job", name).Str("schedule", schedule).Msg("Job registered")
	return nil
}

// loadJobDefinitions reads every YAML definition in the definitions directory
// and registers the enabled ones as automated submissions.
func (s *Service) loadJobDefinitions() error {
	dir := s.config.DefinitionsDir
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read definitions dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable job definition")
			continue
		}

		var def jobDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid job definition")
			continue
		}
		if !def.Enabled || def.Name == "" || def.Schedule == "" || def.SiteKey == "" {
			continue
		}

		if err := s.RegisterJob(def.Name, def.Schedule, def.Description, func() error {
			return s.submitDefinition(&def)
		}); err != nil {
			s.logger.Warn().Err(err).Str("job", def.Name).Msg("Failed to register job definition")
		}
	}

	return nil
}

// submitDefinition fires one automated submission per configured year.
func (s *Service) submitDefinition(def *jobDefinition) error {
	origin := models.OriginAutomatedDiscovery
	switch strings.ToLower(def.Origin) {
	case "historical_backfill":
		origin = models.OriginHistoricalBackfill
	case "verification":
		origin = models.OriginVerification
	}

	years := def.Years
	if len(years) == 0 {
		years = []int{time.Now().Year()}
	}

	for _, year := range years {
		sessionID, err := s.orch.SubmitAutomated(def.SiteKey, year, origin)
		if err != nil {
			return fmt.Errorf("automated submission for %s/%d failed: %w", def.SiteKey, year, err)
		}
		s.logger.Info().
			Str("job", def.Name).
			Str("site_key", def.SiteKey).
			Int("year", year).
			Str("session_id", sessionID).
			Msg("Automated crawl submitted")
	}
	return nil
}
