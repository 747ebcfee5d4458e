// =============================================================================
// pkg/aggregator/folder.go - Reducer-to-Store Folding
// =============================================================================

package aggregator

import (
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/storage"
)

// FoldReducerToStore persists one host's reduced entities into the store.
// Everything is enqueue-only; the caller decides when to flush. Block meta
// is written per host and deduplicated at apply time (first write wins),
// latency samples and transaction timestamp series append.
func FoldReducerToStore(store *storage.Store, host *mapreduce.HostLogReducer) {
	for hash, block := range host.Blocks {
		store.AddBlockMeta(hash, &storage.BlockMeta{
			Txs:       block.Txs,
			Size:      block.Size,
			Timestamp: block.Timestamp,
			Referees:  block.Referees,
		})
		for key, samples := range block.Latencies {
			for _, sample := range samples {
				store.AddBlockLatency(hash, key, sample)
			}
		}
	}

	for hash, tx := range host.Txs {
		for _, ts := range tx.ReceivedTimestamps {
			store.AddTxReceived(hash, ts)
		}
		for _, ts := range tx.PackedTimestamps {
			if ts != nil {
				store.AddTxPacked(hash, *ts)
			}
		}
		for _, ts := range tx.ReadyPoolTimestamps {
			if ts != nil {
				store.AddTxReady(hash, *ts)
			}
		}
	}
}
