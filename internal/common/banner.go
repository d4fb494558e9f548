package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	// Create banner with custom styling - AMBER for graben
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorYellow).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("GRABEN")
	b.PrintCenteredText("Adaptive DNO Tariff Crawler")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Sources", config.Sources.BaseDir, 15)
	b.PrintKeyValue("Workers", fmt.Sprintf("%d", config.Orchestrator.MaxWorkers), 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	// Log structured startup information through Arbor
	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("sources_dir", config.Sources.BaseDir).
		Int("max_workers", config.Orchestrator.MaxWorkers).
		Msg("Application started")
}
