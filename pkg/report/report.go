// =============================================================================
// pkg/report/report.go - Latency Report Assembly
// =============================================================================
//
// Generate turns a finished aggregator into the report table: broadcast
// latency rows per observation type, pipeline stage rows, custom key rows,
// the transaction block when any transaction fully propagated, the per-block
// data rows, and the sync/cons gap rows. Scalar findings (tx totals,
// throughput, the slowest packed transaction) go to the logger.
//
// =============================================================================

package report

import (
	"sort"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/aggregator"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

// Generate assembles the full report table for a validated, generated
// aggregator. statName becomes the table's first header cell.
func Generate(statName string, agg aggregator.Aggregator, log logging.Logger) *Table {
	table := NewMatrix(statName)

	for _, t := range chainlog.BlockLatencyTypes() {
		for _, p := range stats.NodePercentiles() {
			name := "block broadcast latency (" + t.Name() + "/" + p.String() + ")"
			table.AddStat(name, "%.2f", agg.StatBlockLatency(t.Name(), p))
		}
	}

	for _, t := range chainlog.BlockEventTypes() {
		for _, p := range stats.NodePercentiles() {
			name := "block event elapsed (" + t.Name() + "/" + p.String() + ")"
			table.AddStat(name, "%.2f", agg.StatBlockLatency(t.Name(), p))
		}
	}

	for _, key := range agg.CustomBlockLatencyKeys() {
		for _, p := range stats.NodePercentiles() {
			name := "custom block event elapsed (" + key + "/" + p.String() + ")"
			table.AddStat(name, "%.2f", agg.StatBlockLatency(key, p))
		}
	}

	if agg.HasTxStats() {
		for _, p := range stats.NodePercentiles() {
			table.AddStat("tx broadcast latency ("+p.String()+")", "%.2f", agg.StatTxLatency(p))
		}
		for _, p := range stats.NodePercentiles() {
			table.AddStat("tx packed to block latency ("+p.String()+")", "%.2f", agg.StatTxPackedToBlockLatency(p))
		}

		table.AddStat("min tx packed to block latency", "%.2f", agg.StatMinTxPackedToBlockLatency())
		table.AddStat("min tx to ready pool latency", "%.2f", agg.StatMinTxToReadyPoolLatency())
		table.AddStat("by_block_ratio", "%.2f", agg.StatTxRatio())
		table.AddStat("Tx wait to be packed elasped time", "%.2f", agg.StatTxWaitToBePacked())
	}

	addBlockDataRows(table, agg, log)

	for _, p := range []stats.Percentile{stats.Avg, stats.P50, stats.P90, stats.P99, stats.Max} {
		name := "node sync/cons gap (" + p.String() + ")"
		if p == stats.Avg {
			table.AddStat(name, "", agg.StatSyncConsGap(p))
		} else {
			table.AddStat(name, "%d", agg.StatSyncConsGap(p))
		}
	}

	if hash, ok := agg.LargestMinTxPackedLatencyHash(); ok {
		log.Info("Slowest packed transaction hash: %s", hash)
	}

	return table
}

// addBlockDataRows adds the per-block identity rows and logs throughput.
// Throughput counts only blocks that carried transactions, over the declared
// timestamp span of those blocks.
func addBlockDataRows(table *Table, agg aggregator.Aggregator, log logging.Logger) {
	summaries := agg.BlockSummaries()

	txsList := make([]float64, 0, len(summaries))
	sizeList := make([]float64, 0, len(summaries))
	refereeList := make([]float64, 0, len(summaries))
	timestamps := make([]float64, 0, len(summaries))

	txSum := 0
	var minTime, maxTime int64
	for _, block := range summaries {
		txsList = append(txsList, float64(block.Txs))
		sizeList = append(sizeList, float64(block.Size))
		refereeList = append(refereeList, float64(block.RefereeCount))
		timestamps = append(timestamps, float64(block.Timestamp))

		if block.Txs > 0 {
			txSum += block.Txs
			if minTime == 0 || block.Timestamp < minTime {
				minTime = block.Timestamp
			}
			if block.Timestamp > maxTime {
				maxTime = block.Timestamp
			}
		}
	}

	table.AddData("block txs", "%d", txsList)
	table.AddData("block size", "%d", sizeList)
	table.AddData("block referees", "%d", refereeList)

	sort.Float64s(timestamps)
	intervals := make([]float64, 0, len(timestamps))
	for i := 1; i < len(timestamps); i++ {
		intervals = append(intervals, timestamps[i]-timestamps[i-1])
	}
	table.AddData("block generation interval", "%.2f", intervals)

	log.Info("%d txs generated", txSum)
	if maxTime > minTime {
		log.Info("Throughput is %v", helpers.Round2(float64(txSum)/float64(maxTime-minTime)))
	}
}
