// =============================================================================
// pkg/aggregator/aggregator.go - Cluster-Wide Aggregation Interface
// =============================================================================
//
// An Aggregator folds per-host reducers into cluster-wide per-entity
// summaries and exposes re-aggregated Statistics for the report: for each
// latency key, a per-block Statistics over that block's samples, then a
// cluster Statistics over one chosen percentile of every block (and the
// analogous two-level scheme for transactions).
//
// Two implementations exist: InMemoryAggregator keeps every entity resident,
// StoreAggregator streams entities out of a durable Store.
//
// =============================================================================

package aggregator

import (
	"sort"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

// PivotCompletenessRatio is the fraction of nodes that must report a
// pivot-only or custom latency key on a block before the key contributes to
// that block's summary. Non-pivot blocks never reach the pivot stages, and
// custom instrumentation may not run on every node.
var PivotCompletenessRatio = 0.9

// BlockSummary is the per-block identity row used by report data rows.
type BlockSummary struct {
	Hash         string
	Txs          int
	Size         int
	Timestamp    int64
	RefereeCount int
}

// Aggregator is the cluster-wide aggregation contract shared by the
// in-memory and storage-backed implementations.
type Aggregator interface {
	// AddHost folds one host's reducer into the aggregator.
	AddHost(host *mapreduce.HostLogReducer)

	// Validate drops blocks that did not fully propagate and reports
	// propagation diagnostics. Called once, after all hosts are added.
	Validate()

	// GenerateLatencyStat computes the per-entity summaries. When
	// deleteAfterRead is set, storage-backed implementations delete each
	// entity's raw rows once summarized.
	GenerateLatencyStat(deleteAfterRead bool) error

	StatBlockLatency(key string, p stats.Percentile) stats.Statistics
	CustomBlockLatencyKeys() []string

	HasTxStats() bool
	StatTxLatency(p stats.Percentile) stats.Statistics
	StatTxPackedToBlockLatency(p stats.Percentile) stats.Statistics
	StatMinTxPackedToBlockLatency() stats.Statistics
	StatMinTxToReadyPoolLatency() stats.Statistics
	StatTxRatio() stats.Statistics
	StatTxWaitToBePacked() stats.Statistics
	LargestMinTxPackedLatencyHash() (string, bool)

	StatSyncConsGap(p stats.Percentile) stats.Statistics

	// BlockSummaries returns the identity rows of every surviving block.
	BlockSummaries() []BlockSummary

	// NodeCount returns the number of nodes the cluster is known to have.
	NodeCount() int
}

// =============================================================================
// Shared aggregation state
// =============================================================================

// latencyStats is the summary state common to both implementations, plus
// the percentile re-aggregation accessors over it.
type latencyStats struct {
	syncConsGapStats []stats.Statistics

	// latency key -> block hash -> per-block summary
	blockLatencyStats map[string]map[string]stats.Statistics

	txLatencyStats     map[string]stats.Statistics
	txPackedToBlock    map[string]stats.Statistics
	minTxPackedToBlock []float64
	minTxToReadyPool   []float64
	hostByBlockRatio   []float64
	txWaitToBePacked   []float64

	largestMinTxPackedHash string
	largestMinTxPackedTime float64
	hasLargest             bool
}

func newLatencyStats() latencyStats {
	s := latencyStats{
		blockLatencyStats: make(map[string]map[string]stats.Statistics),
		txLatencyStats:    make(map[string]stats.Statistics),
		txPackedToBlock:   make(map[string]stats.Statistics),
	}
	for _, key := range chainlog.DefaultLatencyKeys() {
		s.blockLatencyStats[key] = make(map[string]stats.Statistics)
	}
	return s
}

func (s *latencyStats) setBlockStat(key, hash string, stat stats.Statistics) {
	if s.blockLatencyStats[key] == nil {
		s.blockLatencyStats[key] = make(map[string]stats.Statistics)
	}
	s.blockLatencyStats[key][hash] = stat
}

// trackLargest keeps the running-max straggler: the transaction whose
// earliest packing took longest.
func (s *latencyStats) trackLargest(hash string, latency float64) {
	if !s.hasLargest || s.largestMinTxPackedTime < latency {
		s.largestMinTxPackedHash = hash
		s.largestMinTxPackedTime = latency
		s.hasLargest = true
	}
	s.minTxPackedToBlock = append(s.minTxPackedToBlock, latency)
}

// pivotFloor is the minimum sample count for pivot-only and custom keys.
func (s *latencyStats) pivotFloor(numNodes int) int {
	return int(PivotCompletenessRatio * float64(numNodes))
}

func (s *latencyStats) NodeCount() int {
	return len(s.syncConsGapStats)
}

func (s *latencyStats) StatBlockLatency(key string, p stats.Percentile) stats.Statistics {
	data := []float64{}
	for _, blockStat := range s.blockLatencyStats[key] {
		if v, ok := blockStat.Get(p); ok {
			data = append(data, v)
		}
	}
	return stats.NewStatistics(data)
}

func (s *latencyStats) CustomBlockLatencyKeys() []string {
	keys := []string{}
	for key := range s.blockLatencyStats {
		if !chainlog.IsDefaultLatencyKey(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *latencyStats) HasTxStats() bool {
	return len(s.txLatencyStats) != 0
}

func (s *latencyStats) StatTxLatency(p stats.Percentile) stats.Statistics {
	return reaggregate(s.txLatencyStats, p)
}

func (s *latencyStats) StatTxPackedToBlockLatency(p stats.Percentile) stats.Statistics {
	return reaggregate(s.txPackedToBlock, p)
}

func (s *latencyStats) StatMinTxPackedToBlockLatency() stats.Statistics {
	return stats.NewStatistics(s.minTxPackedToBlock)
}

func (s *latencyStats) StatMinTxToReadyPoolLatency() stats.Statistics {
	return stats.NewStatistics(s.minTxToReadyPool)
}

func (s *latencyStats) StatTxRatio() stats.Statistics {
	return stats.NewStatistics(s.hostByBlockRatio)
}

func (s *latencyStats) StatTxWaitToBePacked() stats.Statistics {
	return stats.NewStatistics(s.txWaitToBePacked)
}

func (s *latencyStats) LargestMinTxPackedLatencyHash() (string, bool) {
	return s.largestMinTxPackedHash, s.hasLargest
}

func (s *latencyStats) StatSyncConsGap(p stats.Percentile) stats.Statistics {
	data := []float64{}
	for _, stat := range s.syncConsGapStats {
		if v, ok := stat.Get(p); ok {
			data = append(data, v)
		}
	}
	return stats.NewStatistics(data)
}

func reaggregate(perEntity map[string]stats.Statistics, p stats.Percentile) stats.Statistics {
	data := []float64{}
	for _, stat := range perEntity {
		if v, ok := stat.Get(p); ok {
			data = append(data, v)
		}
	}
	return stats.NewStatistics(data)
}
