// =============================================================================
// pkg/mapreduce/reducer.go - Per-Host Reduce Phase
// =============================================================================
//
// A HostLogReducer folds the mappers of one host's log files into a single
// per-host view: merged block and transaction entities, one sync/cons gap
// summary per file, and the concatenated by-block ratios. The reducer is
// serializable: hosts dump their reduced state to a JSON file next to the
// raw logs so that repeated analysis runs skip the map phase entirely.
//
// =============================================================================

package mapreduce

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

// DumpFileName is the conventional file name of a serialized reducer.
const DumpFileName = "blocks.log"

// HostLogReducer is the reduce-phase state of one host.
type HostLogReducer struct {
	Blocks           map[string]*chainlog.Block       `json:"blocks"`
	Txs              map[string]*chainlog.Transaction `json:"txs"`
	SyncConsGapStats []stats.Statistics               `json:"sync_cons_gap_stats"`
	ByBlockRatio     []float64                        `json:"by_block_ratio"`
}

// NewHostLogReducer creates an empty reducer.
func NewHostLogReducer() *HostLogReducer {
	return &HostLogReducer{
		Blocks: make(map[string]*chainlog.Block),
		Txs:    make(map[string]*chainlog.Transaction),
	}
}

// ReduceOne folds one mapper into the reducer. The mapper's gap samples
// collapse into one Statistics here; the caller can drop the mapper
// afterwards to bound peak memory.
func (r *HostLogReducer) ReduceOne(mapper *NodeLogMapper) {
	r.SyncConsGapStats = append(r.SyncConsGapStats, stats.NewStatistics(mapper.SyncConsGaps))
	r.ByBlockRatio = append(r.ByBlockRatio, mapper.ByBlockRatio...)

	for _, block := range mapper.Blocks {
		chainlog.AddOrMergeBlock(r.Blocks, block)
	}
	for _, tx := range mapper.Txs {
		chainlog.AddOrMergeTransaction(r.Txs, tx)
	}
}

// Dump writes the reducer state as JSON to the given file.
func (r *HostLogReducer) Dump(outputFile string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to marshal reducer state")
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write reducer dump %s", outputFile)
	}
	return nil
}

// LoadReducerFile reads a reducer dump written by Dump. Archived dumps
// (.gz/.zst) are decompressed transparently.
func LoadReducerFile(inputFile string) (*HostLogReducer, error) {
	reader, err := OpenLogReader(inputFile)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	reducer := NewHostLogReducer()
	if err := json.NewDecoder(reader).Decode(reducer); err != nil {
		return nil, errors.Wrapf(err, "failed to decode reducer dump %s", inputFile)
	}
	if reducer.Blocks == nil {
		reducer.Blocks = make(map[string]*chainlog.Block)
	}
	if reducer.Txs == nil {
		reducer.Txs = make(map[string]*chainlog.Transaction)
	}
	return reducer, nil
}

// ReduceFiles runs the map phase over each log file of one host in turn and
// reduces the results.
func ReduceFiles(logFiles []string) (*HostLogReducer, error) {
	reducer := NewHostLogReducer()
	for _, logFile := range logFiles {
		mapper, err := MapFile(logFile)
		if err != nil {
			return nil, err
		}
		reducer.ReduceOne(mapper)
	}
	return reducer, nil
}
