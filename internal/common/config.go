// -----------------------------------------------------------------------
// Last Modified: Thursday, 30th July 2026 2:14:08 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration for the graben crawler.
// Load order: defaults -> file(s) -> env overrides -> CLI flags.
type Config struct {
	Logging      LoggingConfig      `toml:"logging"`
	Storage      StorageConfig      `toml:"storage"`
	Sources      SourcesConfig      `toml:"sources"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Crawler      CrawlerConfig      `toml:"crawler"`
	LLM          LLMConfig          `toml:"llm"`
	Search       SearchConfig       `toml:"search"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// SourcesConfig controls the content-addressed file store.
type SourcesConfig struct {
	BaseDir string `toml:"base_dir"`
}

type OrchestratorConfig struct {
	MaxWorkers      int `toml:"max_workers"`
	TickMillis      int `toml:"tick_ms"`
	AgingMinutes    int `toml:"aging_minutes"`
	DefaultJobSecs  int `toml:"default_job_seconds"`
	MaxRetries      int `toml:"max_retries"`
	ShutdownTimeout int `toml:"shutdown_timeout_seconds"`
}

type CrawlerConfig struct {
	MaxDepth               int  `toml:"max_depth"`
	MaxPages               int  `toml:"max_pages"`
	MaxConcurrentDownloads int  `toml:"max_concurrent_downloads"`
	GlobalDownloadCeiling  int  `toml:"global_download_ceiling"`
	RequestDelayMillis     int  `toml:"request_delay_ms"`
	RespectRobots          bool `toml:"respect_robots"`
	MaxTimeMinutes         int  `toml:"max_time_minutes"`
	RetryAttempts          int  `toml:"retry_attempts"`
}

type LLMConfig struct {
	// Mode selects the prompt-oracle provider: "offline", "claude" or "gemini".
	Mode   string       `toml:"mode"`
	Claude ClaudeConfig `toml:"claude"`
	Gemini GeminiConfig `toml:"gemini"`
}

type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type GeminiConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type SearchConfig struct {
	// Mode selects the search backend: "offline" (deterministic mock) or "web".
	Mode     string `toml:"mode"`
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

type SchedulerConfig struct {
	Enabled        bool   `toml:"enabled"`
	DefinitionsDir string `toml:"definitions_dir"`
}

// NewDefaultConfig returns the built-in defaults. Every value here can be
// overridden by config files and environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"console"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/graben.db",
				ResetOnStartup: false,
			},
		},
		Sources: SourcesConfig{
			BaseDir: "./data",
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:      4,
			TickMillis:      500,
			AgingMinutes:    15,
			DefaultJobSecs:  300,
			MaxRetries:      3,
			ShutdownTimeout: 30,
		},
		Crawler: CrawlerConfig{
			MaxDepth:               3,
			MaxPages:               100,
			MaxConcurrentDownloads: 5,
			GlobalDownloadCeiling:  20,
			RequestDelayMillis:     1000,
			RespectRobots:          true,
			MaxTimeMinutes:         30,
			RetryAttempts:          3,
		},
		LLM: LLMConfig{
			Mode: "offline",
			Claude: ClaudeConfig{
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
				TimeoutMS: 60000,
			},
			Gemini: GeminiConfig{
				Model:     "gemini-2.0-flash",
				TimeoutMS: 60000,
			},
		},
		Search: SearchConfig{
			Mode: "offline",
		},
		Scheduler: SchedulerConfig{
			Enabled:        false,
			DefinitionsDir: "./jobs",
		},
	}
}

// LoadFromFiles loads configuration from one or more TOML files.
// Later files override earlier ones; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies GRABEN_* environment variables on top of file config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("GRABEN_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("GRABEN_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("GRABEN_SOURCES_DIR"); v != "" {
		config.Sources.BaseDir = v
	}
	if v := os.Getenv("GRABEN_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Orchestrator.MaxWorkers = n
		}
	}
	if v := os.Getenv("GRABEN_LLM_MODE"); v != "" {
		config.LLM.Mode = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.LLM.Claude.APIKey == "" {
		config.LLM.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.LLM.Gemini.APIKey == "" {
		config.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("GRABEN_SEARCH_MODE"); v != "" {
		config.Search.Mode = v
	}
}

// Validate checks cross-field constraints that TOML parsing cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Mode) {
	case "offline", "claude", "gemini":
	default:
		return fmt.Errorf("invalid llm mode %q: must be offline, claude or gemini", c.LLM.Mode)
	}
	switch strings.ToLower(c.Search.Mode) {
	case "offline", "web":
	default:
		return fmt.Errorf("invalid search mode %q: must be offline or web", c.Search.Mode)
	}
	if c.Orchestrator.MaxWorkers < 1 {
		return fmt.Errorf("orchestrator max_workers must be >= 1, got %d", c.Orchestrator.MaxWorkers)
	}
	if c.Crawler.GlobalDownloadCeiling < c.Crawler.MaxConcurrentDownloads {
		// The global ceiling is authoritative; a per-job value above it is clamped.
		c.Crawler.MaxConcurrentDownloads = c.Crawler.GlobalDownloadCeiling
	}
	return nil
}

// Tick returns the orchestrator scheduling tick as a duration.
func (c *OrchestratorConfig) Tick() time.Duration {
	if c.TickMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.TickMillis) * time.Millisecond
}

// RequestDelay returns the per-request politeness delay.
func (c *CrawlerConfig) RequestDelay() time.Duration {
	if c.RequestDelayMillis <= 0 {
		return 0
	}
	return time.Duration(c.RequestDelayMillis) * time.Millisecond
}
