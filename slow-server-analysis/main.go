// main.go
// =============================================================================
// Slow Server Analysis - Main Entry Point
// =============================================================================
//
// Ranks the hosts of one or more experiment runs by slowness: RPC generation
// times from the orchestrator log, and block propagation behavior from the
// per-node reducer dumps of the slowest RPC hosts. Writes one JSON artifact
// per run plus a cross-run summary.
//
// USAGE:
// ======
// ./slow-server-analysis \
//     --logs logs/20260226160703,logs/20260226163242 \
//     --top 15 \
//     --top-propagation-candidates 30 \
//     --output-dir outputs/slow_server_analysis
//
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/slowserver"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitRuntimeError = 2
)

func main() {
	var (
		logsArg       string
		topN          int
		topCandidates int
		outputDir     string
	)

	flag.StringVar(&logsArg, "logs", "", "Comma-separated run log directories to analyze (required)")
	flag.IntVar(&topN, "top", 15, "Top N hosts to print per signal")
	flag.IntVar(&topCandidates, "top-propagation-candidates", 30,
		"Analyze propagation for the top-N RPC slow hosts per run")
	flag.StringVar(&outputDir, "output-dir", "outputs/slow_server_analysis",
		"Directory to write analysis artifacts")

	flag.Parse()

	runDirs := splitRuns(logsArg)
	runDirs = append(runDirs, flag.Args()...)
	if len(runDirs) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: at least one run directory is required (--logs or positional)")
		os.Exit(ExitConfigError)
	}

	log := logging.NewConsoleLogger()

	var results []*slowserver.RunResult
	for _, runDir := range runDirs {
		if info, err := os.Stat(runDir); err != nil || !info.IsDir() {
			log.Info("Skip missing run directory: %s", runDir)
			continue
		}

		result, err := slowserver.AnalyzeRun(runDir, topCandidates)
		if err != nil {
			log.Error("%v", err)
			os.Exit(ExitRuntimeError)
		}
		results = append(results, result)
		slowserver.PrintRunReport(result, topN, log)

		if err := slowserver.WriteRunResult(outputDir, result); err != nil {
			log.Error("%v", err)
			os.Exit(ExitRuntimeError)
		}
	}

	if err := slowserver.WriteSummary(outputDir, results); err != nil {
		log.Error("%v", err)
		os.Exit(ExitRuntimeError)
	}

	log.Info("Saved reports to: %s", outputDir)
	os.Exit(ExitSuccess)
}

func splitRuns(arg string) []string {
	if arg == "" {
		return nil
	}
	var runs []string
	for _, part := range strings.Split(arg, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			runs = append(runs, trimmed)
		}
	}
	return runs
}
