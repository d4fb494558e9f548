// -----------------------------------------------------------------------
// Last Modified: Saturday, 1st August 2026 8:40:56 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/httpclient"
	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/orchestrator"
	"github.com/ternarybob/graben/internal/services/crawler"
	"github.com/ternarybob/graben/internal/services/extractor"
	"github.com/ternarybob/graben/internal/services/learning"
	"github.com/ternarybob/graben/internal/services/llm"
	"github.com/ternarybob/graben/internal/services/pdf"
	"github.com/ternarybob/graben/internal/services/recovery"
	"github.com/ternarybob/graben/internal/services/report"
	"github.com/ternarybob/graben/internal/services/reverse"
	"github.com/ternarybob/graben/internal/services/scheduler"
	"github.com/ternarybob/graben/internal/services/search"
	"github.com/ternarybob/graben/internal/services/sources"
	"github.com/ternarybob/graben/internal/storage/badger"
)

// Exit codes: 0 success, 1 invalid argument, 2 runtime error,
// 3 partial failure with details on stderr.
const (
	exitOK      = 0
	exitUsage   = 1
	exitRuntime = 2
	exitPartial = 3
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
	priorityFlag = flag.String("priority", "medium", "Job priority: critical|high|medium|low")
	modeFlag     = flag.String("mode", "", "Crawl mode: discovery|targeted|reverse|hybrid (default: recommended)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: graben [flags] <command> [args]

Commands:
  crawl <site-key> <year>   Submit a crawl job and wait for it
  reverse <site-key> [year ...]  Reverse-discover historical documents
  dedup                     Run a deduplication pass over stored files
  verify <file-id>          Verify integrity of a stored file
  export <path>             Export source metadata to a JSON file
  import <path>             Import source metadata from a JSON file
  report [days]             Print the audit report (markdown)
  serve                     Run the orchestrator with the scheduler

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("graben version %s (%s)\n", common.GetVersion(), common.GetBuild())
		os.Exit(exitOK)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(exitUsage)
	}

	// 1. Load configuration (defaults -> files -> env)
	if len(configFiles) == 0 {
		if _, err := os.Stat("graben.toml"); err == nil {
			configFiles = append(configFiles, "graben.toml")
		}
	}
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(exitUsage)
	}

	// 2. Initialize logger and banner
	logger = common.SetupLogger(config)
	defer common.Stop()

	common.PrintBanner(config, logger)

	app, err := buildApp()
	if err != nil {
		logger.Error().Err(err).Msg("Startup failed")
		os.Exit(exitRuntime)
	}
	defer app.Close()

	os.Exit(app.run(args))
}

// app bundles the wired services for command dispatch.
type app struct {
	storage  interfaces.StorageManager
	sources  *sources.Service
	learning *learning.Engine
	orch     *orchestrator.Orchestrator
	reverse  *reverse.Crawler
	reports  *report.Service
	sched    *scheduler.Service
}

// buildApp wires the full service graph in dependency order, leaves first.
func buildApp() (*app, error) {
	ctx := context.Background()

	storage, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	sourceService, err := sources.NewService(config.Sources.BaseDir, storage.FileMetadataStorage(), logger)
	if err != nil {
		return nil, fmt.Errorf("source manager init failed: %w", err)
	}

	learningEngine := learning.NewEngine(storage.PatternStorage(), logger)

	fetcher := httpclient.New(httpclient.Options{
		Timeout:       30 * time.Second,
		RequestDelay:  config.Crawler.RequestDelay(),
		MaxConcurrent: int64(config.Crawler.GlobalDownloadCeiling),
		RespectRobots: config.Crawler.RespectRobots,
	}, logger)

	oracle, err := llm.NewPromptOracle(ctx, &config.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("prompt oracle init failed: %w", err)
	}

	searchService := search.NewSearchService(&config.Search, logger)
	recognizer := extractor.NewRecognizer()
	ocr := extractor.NewOfflineOCR()
	pdfAnalyzer := pdf.NewAnalyzer(oracle, logger).
		WithOCRFallback(pdf.NewPopplerConverter(), ocr)
	extractorService := extractor.NewService(
		fetcher, recognizer, pdfAnalyzer,
		ocr, extractor.NewExcelParser(), logger)

	recoveryEngine := recovery.NewEngine(logger)

	crawlerService := crawler.NewService(
		fetcher, recognizer, extractorService, recoveryEngine,
		sourceService, searchService, logger)

	orch := orchestrator.New(&config.Orchestrator, crawlerService, learningEngine, storage, logger)

	reverseCrawler := reverse.NewCrawler(sourceService, learningEngine, fetcher, reverse.DefaultConfig(), logger)

	return &app{
		storage:  storage,
		sources:  sourceService,
		learning: learningEngine,
		orch:     orch,
		reverse:  reverseCrawler,
		reports:  report.NewService(sourceService, logger),
		sched:    scheduler.NewService(&config.Scheduler, orch, logger),
	}, nil
}

func (a *app) Close() {
	if a.storage != nil {
		a.storage.Close()
	}
}

func (a *app) run(args []string) int {
	switch args[0] {
	case "crawl":
		return a.cmdCrawl(args[1:])
	case "reverse":
		return a.cmdReverse(args[1:])
	case "dedup":
		return a.cmdDedup()
	case "verify":
		return a.cmdVerify(args[1:])
	case "export":
		return a.cmdExport(args[1:])
	case "import":
		return a.cmdImport(args[1:])
	case "report":
		return a.cmdReport(args[1:])
	case "serve":
		return a.cmdServe()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		usage()
		return exitUsage
	}
}

func (a *app) cmdCrawl(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: graben crawl <site-key> <year>")
		return exitUsage
	}
	year, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid year: %s\n", args[1])
		return exitUsage
	}

	if err := a.orch.Start(); err != nil {
		logger.Error().Err(err).Msg("Orchestrator start failed")
		return exitRuntime
	}
	defer a.orch.Shutdown(time.Duration(config.Orchestrator.ShutdownTimeout) * time.Second)

	resp, err := a.orch.Submit(&models.CrawlSessionRequest{
		SiteKey:   args[0],
		Year:      year,
		Priority:  *priorityFlag,
		Mode:      *modeFlag,
		CreatedBy: "cli",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
		return exitUsage
	}

	fmt.Printf("session %s queued (position %d, estimated start %s)\n",
		resp.SessionID, resp.QueuePosition, resp.EstimatedStart.Format(time.RFC3339))

	// Wait for the session to reach a terminal state
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			a.orch.Cancel(resp.SessionID)
			fmt.Fprintln(os.Stderr, "cancelled")
			return exitPartial
		case <-ticker.C:
			session, err := a.orch.GetSession(resp.SessionID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "session lookup failed: %v\n", err)
				return exitRuntime
			}
			switch session.Status {
			case models.JobStatusCompleted:
				fmt.Printf("completed: %d pages, %d files, %d records\n",
					session.PagesVisited, session.FilesDownloaded, session.RecordsExtracted)
				return exitOK
			case models.JobStatusFailed:
				fmt.Fprintf(os.Stderr, "failed: %s (%d pages, %d files preserved)\n",
					session.FirstError, session.PagesVisited, session.FilesDownloaded)
				return exitPartial
			case models.JobStatusCancelled:
				fmt.Fprintln(os.Stderr, "cancelled")
				return exitPartial
			}
		}
	}
}

func (a *app) cmdReverse(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: graben reverse <site-key> [year ...]")
		return exitUsage
	}

	var years []int
	for _, arg := range args[1:] {
		year, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid year: %s\n", arg)
			return exitUsage
		}
		years = append(years, year)
	}

	rep, err := a.reverse.DiscoverHistorical(context.Background(), args[0], years)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reverse discovery failed: %v\n", err)
		return exitRuntime
	}

	fmt.Printf("tested %d candidate(s), %d live, years covered %v\n",
		rep.CandidatesTested, len(rep.LiveURLs), rep.YearsCovered)
	for _, d := range rep.LiveURLs {
		marker := " "
		if d.Downloaded {
			marker = "+"
		}
		fmt.Printf("  %s %d %s (%.2f)\n", marker, d.StatusCode, d.URL, d.Confidence)
	}
	return exitOK
}

func (a *app) cmdDedup() int {
	result, err := a.sources.Deduplicate(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "dedup failed: %v\n", err)
		return exitRuntime
	}
	fmt.Printf("analyzed %d, duplicates %d, deduplicated %d, bytes saved %d\n",
		result.FilesAnalyzed, result.DuplicatesFound, result.FilesDeduped, result.BytesSaved)
	if len(result.ManualReviewIDs) > 0 {
		fmt.Fprintf(os.Stderr, "%d file(s) flagged for manual review\n", len(result.ManualReviewIDs))
		return exitPartial
	}
	return exitOK
}

func (a *app) cmdVerify(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: graben verify <file-id>")
		return exitUsage
	}
	status, err := a.sources.VerifyIntegrity(context.Background(), args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		return exitRuntime
	}
	fmt.Printf("integrity: %s", status.State)
	if status.Reason != "" {
		fmt.Printf(" (%s)", status.Reason)
	}
	fmt.Println()
	if status.State != models.IntegrityValid {
		return exitPartial
	}
	return exitOK
}

func (a *app) cmdExport(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: graben export <path>")
		return exitUsage
	}
	data, err := a.sources.ExportMetadata()
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		return exitRuntime
	}
	if err := os.WriteFile(args[0], data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		return exitRuntime
	}
	fmt.Printf("exported metadata to %s (%d bytes)\n", args[0], len(data))
	return exitOK
}

func (a *app) cmdImport(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: graben import <path>")
		return exitUsage
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
		return exitUsage
	}
	if err := a.sources.ImportMetadata(data); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		return exitRuntime
	}
	fmt.Printf("imported metadata from %s\n", args[0])
	return exitOK
}

func (a *app) cmdReport(args []string) int {
	days := 7
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			days = n
		}
	}
	fmt.Println(a.reports.AuditReportMarkdown(days))
	return exitOK
}

func (a *app) cmdServe() int {
	if err := a.orch.Start(); err != nil {
		logger.Error().Err(err).Msg("Orchestrator start failed")
		return exitRuntime
	}

	if config.Scheduler.Enabled {
		if err := a.sched.Start(); err != nil {
			logger.Error().Err(err).Msg("Scheduler start failed")
			return exitRuntime
		}
	}

	logger.Info().Msg("graben running - press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")
	if config.Scheduler.Enabled {
		a.sched.Stop()
	}
	if err := a.orch.Shutdown(time.Duration(config.Orchestrator.ShutdownTimeout) * time.Second); err != nil {
		return exitPartial
	}
	return exitOK
}
