// =============================================================================
// pkg/aggregator/store_agg.go - Storage-Backed Aggregator
// =============================================================================
//
// StoreAggregator computes the same summaries as InMemoryAggregator but
// streams entities out of a durable Store instead of holding them: block and
// transaction hashes iterate lazily, each entity's samples are summarized
// and (optionally) its raw rows deleted immediately after. Peak memory is
// bounded by the summaries, not by the raw sample volume.
//
// AddHost keeps only the per-host summary information (gap statistics and
// by-block ratios); entities are expected to already be in the store, put
// there by a StoreFolder during loading.
//
// =============================================================================

package aggregator

import (
	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/storage"
)

// nodeCountSampleSize bounds the number of blocks inspected when the node
// count has to be inferred from stored data.
const nodeCountSampleSize = 200

// StoreAggregator aggregates entities persisted in a Store.
type StoreAggregator struct {
	latencyStats

	store  *storage.Store
	blocks map[string]BlockSummary

	// inferredNodes is set when no gap statistics exist (pure --read-db
	// runs) and the node count had to be inferred from stored blocks.
	inferredNodes int

	log logging.Logger
}

// NewStoreAggregator creates an aggregator over the given store.
func NewStoreAggregator(store *storage.Store, log logging.Logger) *StoreAggregator {
	return &StoreAggregator{
		latencyStats: newLatencyStats(),
		store:        store,
		blocks:       make(map[string]BlockSummary),
		log:          log,
	}
}

// AddHost keeps the host's summary information only. Entity data flows to
// the store out of band.
func (a *StoreAggregator) AddHost(host *mapreduce.HostLogReducer) {
	a.syncConsGapStats = append(a.syncConsGapStats, host.SyncConsGapStats...)
	a.hostByBlockRatio = append(a.hostByBlockRatio, host.ByBlockRatio...)
}

// NodeCount returns the known node count, falling back to the count
// inferred during GenerateLatencyStat.
func (a *StoreAggregator) NodeCount() int {
	if n := a.latencyStats.NodeCount(); n > 0 {
		return n
	}
	return a.inferredNodes
}

// Validate drops blocks whose sync-graph summary count differs from the
// node count. With an unknown node count (pure store reads) nothing is
// dropped. Must run after GenerateLatencyStat, which populates the
// summaries it inspects.
func (a *StoreAggregator) Validate() {
	numNodes := a.NodeCount()
	if numNodes == 0 {
		return
	}

	for hash := range a.blocks {
		countSync := 0
		if syncStat, ok := a.blockLatencyStats[chainlog.Sync.Name()][hash]; ok {
			countSync = syncStat.Count()
		}
		if countSync != numNodes {
			a.log.Info("sync graph missed block %s: received = %d, total = %d", hash, countSync, numNodes)
			delete(a.blocks, hash)
			for _, perBlock := range a.blockLatencyStats {
				delete(perBlock, hash)
			}
		}
	}
}

// GenerateLatencyStat streams every stored entity, summarizes it, and
// deletes its raw rows when deleteAfterRead is set.
func (a *StoreAggregator) GenerateLatencyStat(deleteAfterRead bool) error {
	numNodes := a.latencyStats.NodeCount()
	if numNodes == 0 {
		inferred, err := a.inferNodeCount()
		if err != nil {
			return err
		}
		a.inferredNodes = inferred
		numNodes = inferred
	}

	if err := a.generateBlockStats(numNodes, deleteAfterRead); err != nil {
		return err
	}
	return a.generateTxStats(numNodes, deleteAfterRead)
}

// inferNodeCount samples stored blocks and takes the largest sample count
// seen on any built-in latency key: a fully propagated block carries one
// sample per node.
func (a *StoreAggregator) inferNodeCount() (int, error) {
	it, err := a.store.BlockHashes()
	if err != nil {
		return 0, err
	}
	defer it.Close()

	inferred := 0
	for i := 0; i < nodeCountSampleSize; i++ {
		hash, ok := it.Next()
		if !ok {
			break
		}
		latencies, err := a.store.GetBlockLatencies(hash)
		if err != nil {
			return 0, err
		}
		for _, key := range chainlog.DefaultLatencyKeys() {
			if n := len(latencies[key]); n > inferred {
				inferred = n
			}
		}
	}

	if err := it.Err(); err != nil {
		return 0, err
	}
	if inferred > 0 {
		a.log.Info("Inferred node count %d from stored blocks", inferred)
	}
	return inferred, nil
}

func (a *StoreAggregator) generateBlockStats(numNodes int, deleteAfterRead bool) error {
	floor := a.pivotFloor(numNodes)

	it, err := a.store.BlockHashes()
	if err != nil {
		return err
	}
	defer it.Close()

	for hash, ok := it.Next(); ok; hash, ok = it.Next() {
		latencies, err := a.store.GetBlockLatencies(hash)
		if err != nil {
			return err
		}

		for _, key := range chainlog.DefaultLatencyKeys() {
			samples := latencies[key]
			if len(samples) == 0 {
				continue
			}
			if chainlog.IsPivotOnlyKey(key) && len(samples) < floor {
				continue
			}
			a.setBlockStat(key, hash, stats.NewStatistics(samples))
		}

		for key, samples := range latencies {
			if chainlog.IsDefaultLatencyKey(key) {
				continue
			}
			if len(samples) == 0 || len(samples) < floor {
				continue
			}
			a.setBlockStat(key, hash, stats.NewStatistics(samples))
		}

		meta, ok, err := a.store.GetBlockMeta(hash)
		if err != nil {
			return err
		}
		if ok {
			a.blocks[hash] = BlockSummary{
				Hash:         hash,
				Txs:          meta.Txs,
				Size:         meta.Size,
				Timestamp:    meta.Timestamp,
				RefereeCount: len(meta.Referees),
			}
		}

		if deleteAfterRead {
			a.store.DeleteBlock(hash)
		}
	}

	return it.Err()
}

func (a *StoreAggregator) generateTxStats(numNodes int, deleteAfterRead bool) error {
	it, err := a.store.TxHashes()
	if err != nil {
		return err
	}
	defer it.Close()

	for hash, ok := it.Next(); ok; hash, ok = it.Next() {
		received, err := a.store.GetTxReceived(hash)
		if err != nil {
			return err
		}
		if len(received) == 0 {
			if deleteAfterRead {
				a.store.DeleteTx(hash)
			}
			continue
		}

		minReceived := received[0]
		for _, ts := range received[1:] {
			if ts < minReceived {
				minReceived = ts
			}
		}

		if len(received) == numNodes {
			latencies := make([]float64, 0, len(received))
			for _, ts := range received {
				latencies = append(latencies, ts-minReceived)
			}
			a.txLatencyStats[hash] = stats.NewStatistics(latencies)
		}

		packed, err := a.store.GetTxPacked(hash)
		if err != nil {
			return err
		}
		if len(packed) > 0 {
			minPacked := packed[0]
			latencies := make([]float64, 0, len(packed))
			for _, ts := range packed {
				latencies = append(latencies, ts-minReceived)
				if ts < minPacked {
					minPacked = ts
				}
			}
			a.txPackedToBlock[hash] = stats.NewStatistics(latencies)
			a.trackLargest(hash, minPacked-minReceived)
		}

		ready, err := a.store.GetTxReady(hash)
		if err != nil {
			return err
		}
		if len(ready) > 0 {
			minReady := ready[0]
			for _, ts := range ready[1:] {
				if ts < minReady {
					minReady = ts
				}
			}
			a.minTxToReadyPool = append(a.minTxToReadyPool, minReady-minReceived)
		}

		if deleteAfterRead {
			a.store.DeleteTx(hash)
		}
	}

	return it.Err()
}

// BlockSummaries returns the identity rows of every surviving block.
func (a *StoreAggregator) BlockSummaries() []BlockSummary {
	summaries := make([]BlockSummary, 0, len(a.blocks))
	for _, summary := range a.blocks {
		summaries = append(summaries, summary)
	}
	return summaries
}
