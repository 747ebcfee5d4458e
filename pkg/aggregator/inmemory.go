// =============================================================================
// pkg/aggregator/inmemory.go - In-Memory Aggregator
// =============================================================================

package aggregator

import (
	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

// InMemoryAggregator keeps every merged entity resident. The default choice
// for clusters whose full entity set fits in memory.
type InMemoryAggregator struct {
	latencyStats

	Blocks map[string]*chainlog.Block
	Txs    map[string]*chainlog.Transaction

	log logging.Logger
}

// NewInMemoryAggregator creates an empty in-memory aggregator. Diagnostics
// from Validate go to the given logger.
func NewInMemoryAggregator(log logging.Logger) *InMemoryAggregator {
	return &InMemoryAggregator{
		latencyStats: newLatencyStats(),
		Blocks:       make(map[string]*chainlog.Block),
		Txs:          make(map[string]*chainlog.Transaction),
		log:          log,
	}
}

// AddHost folds one host's reducer: entities merge by hash, gap summaries
// and ratios concatenate, and each packed transaction contributes its
// host-local wait-to-be-packed time.
func (a *InMemoryAggregator) AddHost(host *mapreduce.HostLogReducer) {
	a.syncConsGapStats = append(a.syncConsGapStats, host.SyncConsGapStats...)
	a.hostByBlockRatio = append(a.hostByBlockRatio, host.ByBlockRatio...)

	for _, block := range host.Blocks {
		chainlog.AddOrMergeBlock(a.Blocks, block)
	}
	for _, tx := range host.Txs {
		chainlog.AddOrMergeTransaction(a.Txs, tx)
	}

	for _, tx := range host.Txs {
		if wait, ok := tx.WaitToBePacked(); ok {
			a.txWaitToBePacked = append(a.txWaitToBePacked, wait)
		}
	}
}

// Validate drops every block whose sync-graph sample count differs from the
// node count: such a block did not reach the whole cluster and its latency
// summary would understate propagation time. Also reports transaction
// propagation counts.
func (a *InMemoryAggregator) Validate() {
	a.log.Info("%d nodes in total", a.NodeCount())
	a.log.Info("%d blocks generated", len(a.Blocks))

	numNodes := a.NodeCount()

	for hash, block := range a.Blocks {
		countSync := block.LatencyCount(chainlog.Sync)
		if countSync != numNodes {
			a.log.Info("sync graph missed block %s: received = %d, total = %d", hash, countSync, numNodes)
			delete(a.Blocks, hash)
		}
	}

	missingTx := 0
	unpackedTx := 0
	for _, tx := range a.Txs {
		if tx.LatencyCount() != numNodes {
			missingTx++
		}
		if !tx.Packed() {
			unpackedTx++
		}
	}

	a.log.Info("Removed tx count (txs have not fully propagated) %d", missingTx)
	a.log.Info("Unpacked tx count %d", unpackedTx)
	a.log.Info("Total tx count %d", len(a.Txs))
}

// GenerateLatencyStat computes per-block and per-transaction summaries.
// deleteAfterRead is meaningless in memory and ignored.
func (a *InMemoryAggregator) GenerateLatencyStat(deleteAfterRead bool) error {
	numNodes := a.NodeCount()
	floor := a.pivotFloor(numNodes)

	for _, block := range a.Blocks {
		for _, key := range chainlog.DefaultLatencyKeys() {
			latencies := block.GetLatencies(key)
			if len(latencies) == 0 {
				continue
			}
			if chainlog.IsPivotOnlyKey(key) && len(latencies) < floor {
				continue
			}
			a.setBlockStat(key, block.Hash, stats.NewStatistics(latencies))
		}

		for key, latencies := range block.NonDefaultLatencies() {
			if len(latencies) == 0 || len(latencies) < floor {
				continue
			}
			a.setBlockStat(key, block.Hash, stats.NewStatistics(latencies))
		}
	}

	for _, tx := range a.Txs {
		// broadcast latency only for fully propagated transactions
		if tx.LatencyCount() == numNodes {
			a.txLatencyStats[tx.Hash] = stats.NewStatistics(tx.GetLatencies())
		}

		if tx.Packed() {
			a.txPackedToBlock[tx.Hash] = stats.NewStatistics(tx.GetPackedToBlockLatencies())
			if latency, ok := tx.MinPackedToBlockLatency(); ok {
				a.trackLargest(tx.Hash, latency)
			}
		}

		if latency, ok := tx.MinReadyPoolLatency(); ok {
			a.minTxToReadyPool = append(a.minTxToReadyPool, latency)
		}
	}

	return nil
}

// BlockSummaries returns the identity rows of every surviving block.
func (a *InMemoryAggregator) BlockSummaries() []BlockSummary {
	summaries := make([]BlockSummary, 0, len(a.Blocks))
	for _, block := range a.Blocks {
		summaries = append(summaries, BlockSummary{
			Hash:         block.Hash,
			Txs:          block.Txs,
			Size:         block.Size,
			Timestamp:    block.Timestamp,
			RefereeCount: len(block.Referees),
		})
	}
	return summaries
}
