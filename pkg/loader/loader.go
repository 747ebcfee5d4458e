// =============================================================================
// pkg/loader/loader.go - Parallel Host Directory Loading
// =============================================================================
//
// DirectoryLoader walks a logs directory and folds every host it finds into
// an aggregator. Two file conventions are recognized:
//
//   - "<dump file>" (default blocks.log): a serialized per-host reducer,
//     loaded directly, skipping the map phase.
//   - "<raw log>" (default conflux.log): raw node logs, grouped by their
//     containing directory (one directory = one host) and map+reduced.
//
// Both accept .gz / .zst archived variants. Hosts are processed by a
// bounded worker pool; results fold into the aggregator in completion
// order on the caller's goroutine, and each host's entities are dropped as
// soon as they are folded to keep peak memory at one host, not the
// cluster.
//
// A host that fails to load is reported and skipped; one corrupt download
// must not abort a multi-hour analysis of the remaining hosts.
//
// =============================================================================

package loader

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/aggregator"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/memory"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/storage"
)

// DefaultMaxWorkers is the worker pool width when the config does not
// override it.
const DefaultMaxWorkers = 8

// DirectoryLoader loads every host under a logs directory.
type DirectoryLoader struct {
	// LogsDir is the root directory to walk.
	LogsDir string

	// MaxWorkers bounds the number of hosts loaded concurrently.
	MaxWorkers int

	// RawLogName and DumpFileName override the conventional file names.
	RawLogName   string
	DumpFileName string

	// RAMWarningThresholdGB is forwarded to the memory monitor checked at
	// host fold boundaries.
	RAMWarningThresholdGB float64

	// Store, when set, receives every host's entities (via the store
	// folder) so a storage-backed aggregator can stream them later.
	Store *storage.Store

	Log logging.Logger
}

// NewDirectoryLoader creates a loader with the conventional defaults.
func NewDirectoryLoader(logsDir string, log logging.Logger) *DirectoryLoader {
	return &DirectoryLoader{
		LogsDir:               logsDir,
		MaxWorkers:            DefaultMaxWorkers,
		RawLogName:            "conflux.log",
		DumpFileName:          mapreduce.DumpFileName,
		RAMWarningThresholdGB: memory.DefaultRAMWarningThresholdGB,
		Log:                   log,
	}
}

// hostJob is one unit of work: either a reducer dump file or the raw log
// files of one host directory.
type hostJob struct {
	host     string
	dumpFile string
	rawFiles []string
}

type hostResult struct {
	host    string
	reducer *mapreduce.HostLogReducer
	err     error
}

// Load walks the directory, runs the per-host map/reduce (or dump load) on
// the worker pool, and folds each host into agg as it completes. Returns
// the number of hosts folded.
func (l *DirectoryLoader) Load(agg aggregator.Aggregator) (int, error) {
	jobs, err := l.collectJobs()
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, errors.Errorf("no host logs found under %s", l.LogsDir)
	}

	log := l.Log.WithScope("LOADER")
	log.Info("Loading %d hosts from %s with %d workers", len(jobs), l.LogsDir, l.workers())

	jobCh := make(chan hostJob)
	resultCh := make(chan hostResult)

	var wg sync.WaitGroup
	for w := 0; w < l.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resultCh <- l.runJob(job)
			}
		}()
	}

	go func() {
		for _, job := range jobs {
			jobCh <- job
		}
		close(jobCh)
		wg.Wait()
		close(resultCh)
	}()

	threshold := l.RAMWarningThresholdGB
	if threshold <= 0 {
		threshold = memory.DefaultRAMWarningThresholdGB
	}
	monitor := memory.NewMemoryMonitor(log, threshold)

	folded := 0
	for result := range resultCh {
		if result.err != nil {
			log.Error("Skipping host %s: %v", result.host, result.err)
			continue
		}

		if l.Store != nil {
			aggregator.FoldReducerToStore(l.Store, result.reducer)
		}
		agg.AddHost(result.reducer)
		folded++

		// reducer memory is released here; hosts fold one at a time
		result.reducer = nil
		monitor.Check()
	}

	if folded == 0 {
		return 0, errors.Errorf("all %d hosts failed to load", len(jobs))
	}
	log.Info("Folded %d/%d hosts, peak RSS %.2f GB", folded, len(jobs), monitor.PeakRSSGB())
	return folded, nil
}

func (l *DirectoryLoader) workers() int {
	if l.MaxWorkers > 0 {
		return l.MaxWorkers
	}
	return DefaultMaxWorkers
}

// collectJobs walks the tree once, pairing dump files with their directory
// and grouping raw log files per host directory. A directory holding a
// dump is one host; a directory holding raw logs is one host.
func (l *DirectoryLoader) collectJobs() ([]hostJob, error) {
	rawByHost := make(map[string][]string)
	var jobs []hostJob

	walkErr := filepath.WalkDir(l.LogsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		switch mapreduce.StripArchiveExt(d.Name()) {
		case l.DumpFileName:
			jobs = append(jobs, hostJob{host: filepath.Dir(path), dumpFile: path})
		case l.RawLogName:
			host := filepath.Dir(path)
			rawByHost[host] = append(rawByHost[host], path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, errors.Wrapf(walkErr, "failed to walk %s", l.LogsDir)
	}

	hosts := make([]string, 0, len(rawByHost))
	for host := range rawByHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		sort.Strings(rawByHost[host])
		jobs = append(jobs, hostJob{host: host, rawFiles: rawByHost[host]})
	}

	return jobs, nil
}

func (l *DirectoryLoader) runJob(job hostJob) hostResult {
	if job.dumpFile != "" {
		reducer, err := mapreduce.LoadReducerFile(job.dumpFile)
		return hostResult{host: job.host, reducer: reducer, err: err}
	}
	reducer, err := mapreduce.ReduceFiles(job.rawFiles)
	return hostResult{host: job.host, reducer: reducer, err: err}
}
