// main.go
// =============================================================================
// Block/Transaction Latency Analysis - Main Entry Point
// =============================================================================
//
// This is the main entry point for the latency analyzer. It handles:
// - Command-line argument parsing
// - Configuration loading and validation
// - Log directory loading (parallel per-host map/reduce)
// - Cluster-wide aggregation, in memory or through the entity store
// - Report rendering (table to stdout, optional CSV)
//
// USAGE:
// ======
// ./stat-latency \
//     --name nightly-run \
//     --logs /data/logs/20260226160703 \
//     --csv /data/reports/20260226160703.csv \
//     --config analyzer.toml
//
// Store-backed runs keep entities out of RAM:
//
// ./stat-latency --name big-run --logs /data/logs/big --db /data/analyzer-db
//
// A populated store can be re-analyzed without the logs:
//
// ./stat-latency --name rerun --db /data/analyzer-db --read-db --preserve-db
//
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/aggregator"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/config"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/loader"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/report"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/storage"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitRuntimeError = 2
)

func main() {
	// =========================================================================
	// Parse Command-Line Arguments
	// =========================================================================
	var (
		statName   string
		logsDir    string
		csvOutput  string
		configPath string
		dbPath     string
		readDB     bool
		preserveDB bool
	)

	flag.StringVar(&statName, "name", "stat-latency", "Report name (first header cell)")
	flag.StringVar(&logsDir, "logs", "", "Log directory to analyze (required unless --read-db)")
	flag.StringVar(&csvOutput, "csv", "", "CSV output file (optional)")
	flag.StringVar(&configPath, "config", "", "Path to TOML configuration file (optional)")
	flag.StringVar(&dbPath, "db", "", "Entity store directory; enables store-backed aggregation")
	flag.BoolVar(&readDB, "read-db", false, "Skip log loading, aggregate an already-populated store")
	flag.BoolVar(&preserveDB, "preserve-db", false, "Keep raw store rows after aggregation")

	flag.Parse()

	// =========================================================================
	// Load Configuration
	// =========================================================================
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(ExitConfigError)
		}
		cfg = loaded
	}

	storeMode := dbPath != "" || cfg.Storage.Path != ""
	if readDB && !storeMode {
		fmt.Fprintln(os.Stderr, "ERROR: --read-db requires --db or a storage.path config entry")
		os.Exit(ExitConfigError)
	}
	if logsDir == "" && !readDB {
		fmt.Fprintln(os.Stderr, "ERROR: --logs is required (or use --read-db on a populated store)")
		os.Exit(ExitConfigError)
	}

	aggregator.PivotCompletenessRatio = cfg.Thresholds.PivotCompleteness

	log := logging.NewConsoleLogger()
	if err := run(statName, logsDir, csvOutput, dbPath, readDB, preserveDB, storeMode, cfg, log); err != nil {
		log.Error("%v", err)
		os.Exit(ExitRuntimeError)
	}
	os.Exit(ExitSuccess)
}

func run(statName, logsDir, csvOutput, dbPath string, readDB, preserveDB, storeMode bool,
	cfg *config.Config, log logging.Logger) error {

	// =========================================================================
	// Build the Aggregation Pipeline
	// =========================================================================
	var agg aggregator.Aggregator
	var store *storage.Store

	if storeMode {
		var err error
		store, err = storage.Open(cfg.StorageSettings(dbPath), log)
		if err != nil {
			return err
		}
		defer store.Close()
		agg = aggregator.NewStoreAggregator(store, log)
	} else {
		agg = aggregator.NewInMemoryAggregator(log)
	}

	if !readDB {
		l := loader.NewDirectoryLoader(logsDir, log)
		l.MaxWorkers = cfg.Loader.MaxWorkers
		l.RawLogName = cfg.Loader.RawLogName
		l.DumpFileName = cfg.Loader.DumpFileName
		l.RAMWarningThresholdGB = cfg.Loader.RAMWarningThresholdGB
		if storeMode {
			l.Store = store
		}
		if _, err := l.Load(agg); err != nil {
			return err
		}
	}

	// =========================================================================
	// Aggregate and Report
	// =========================================================================
	// The store path validates against generated summaries, so its ordering
	// is inverted relative to the in-memory path.
	if storeMode {
		if err := agg.GenerateLatencyStat(!preserveDB); err != nil {
			return err
		}
		agg.Validate()
	} else {
		agg.Validate()
		if err := agg.GenerateLatencyStat(false); err != nil {
			return err
		}
	}

	table := report.Generate(statName, agg, log)
	table.PrettyPrint(os.Stdout)

	if csvOutput != "" {
		if err := table.WriteCSV(csvOutput); err != nil {
			return err
		}
		log.Info("CSV report written to %s", csvOutput)
	}
	return nil
}
