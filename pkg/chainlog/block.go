// =============================================================================
// pkg/chainlog/block.go - Block Entity
// =============================================================================
//
// A Block accumulates latency samples from every node that observed it. The
// same block is parsed from many log lines across many files; AddOrMerge
// folds repeated observations into one entity keyed by hash. The JSON shape
// matches the per-host reducer dump format.
//
// =============================================================================

package chainlog

import (
	"strconv"
	"strings"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
)

// HashLength is the length of a 0x-prefixed 32-byte hash string.
const HashLength = 66

// Block is one block of the test network with its identity fields and the
// latency samples collected for it, keyed by latency key name.
type Block struct {
	Hash      string   `json:"hash"`
	Parent    string   `json:"parent"`
	Timestamp int64    `json:"timestamp"`
	Height    uint64   `json:"height"`
	Referees  []string `json:"referees"`

	Txs  int `json:"txs"`
	Size int `json:"size"`

	Latencies map[string][]float64 `json:"latencies"`
}

// NewBlock creates a block with empty sample lists for every built-in
// latency key.
func NewBlock(hash, parent string, timestamp int64, height uint64, referees []string) *Block {
	latencies := make(map[string][]float64)
	for _, key := range DefaultLatencyKeys() {
		latencies[key] = []float64{}
	}
	return &Block{
		Hash:      hash,
		Parent:    parent,
		Timestamp: timestamp,
		Height:    height,
		Referees:  referees,
		Latencies: latencies,
	}
}

// parseBlockHeader extracts the identity fields common to all broadcast
// observation lines. Hash and referee hashes are length-validated hard:
// a truncated hash would silently split one block into two entities.
func parseBlockHeader(line string) (*Block, error) {
	parent, err := ParseField(line, "parent_hash: ", ",")
	if err != nil {
		return nil, err
	}

	heightField, err := ParseField(line, "height: ", ",")
	if err != nil {
		return nil, err
	}
	height, err := strconv.ParseUint(heightField, 10, 64)
	if err != nil {
		return nil, parseErrorf(line, "invalid block height %q", heightField)
	}

	tsField, err := ParseField(line, "timestamp: ", ",")
	if err != nil {
		return nil, err
	}
	timestamp, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return nil, parseErrorf(line, "invalid block timestamp %q", tsField)
	}

	hash, err := ParseField(line, "hash: Some(", ")")
	if err != nil {
		return nil, err
	}
	if len(hash) != HashLength {
		return nil, parseErrorf(line, "invalid block hash length %d", len(hash))
	}

	refField, err := ParseField(line, "referee_hashes: [", "]")
	if err != nil {
		return nil, err
	}
	referees := []string{}
	for _, ref := range strings.Split(refField, ",") {
		ref = strings.TrimSpace(ref)
		if len(ref) == 0 {
			continue
		}
		if len(ref) != HashLength {
			return nil, parseErrorf(line, "invalid block referee hash length %d", len(ref))
		}
		referees = append(referees, ref)
	}

	return NewBlock(hash, parent, timestamp, height, referees), nil
}

// ParseBlockReceive parses one broadcast observation line and records one
// latency sample of the given type: the gap between the line's log time and
// the block's declared production timestamp, rounded to 2 decimals.
// Consensus insertion lines do not carry tx_count/block_size.
func ParseBlockReceive(line string, t BlockLatencyType) (*Block, error) {
	logTimestamp, err := ParseLogTimestamp(line)
	if err != nil {
		return nil, err
	}

	block, err := parseBlockHeader(line)
	if err != nil {
		return nil, err
	}

	if t != Cons {
		txsField, err := ParseField(line, "tx_count=", ",")
		if err != nil {
			return nil, err
		}
		block.Txs, err = strconv.Atoi(txsField)
		if err != nil {
			return nil, parseErrorf(line, "invalid tx_count %q", txsField)
		}

		sizeField, err := ParseField(line, "block_size=", "")
		if err != nil {
			return nil, err
		}
		block.Size, err = strconv.Atoi(strings.TrimSpace(sizeField))
		if err != nil {
			return nil, parseErrorf(line, "invalid block_size %q", sizeField)
		}
	}

	latency := helpers.Round2(logTimestamp - float64(block.Timestamp))
	block.Latencies[t.Name()] = append(block.Latencies[t.Name()], latency)
	return block, nil
}

// AddOrMergeBlock inserts the block into the map, or merges it into the
// entity already held under its hash.
func AddOrMergeBlock(blocks map[string]*Block, block *Block) {
	if existing, ok := blocks[block.Hash]; ok {
		existing.Merge(block)
	} else {
		blocks[block.Hash] = block
	}
}

// Merge folds another observation of the same block into this one: sample
// lists concatenate per key, and a zero size is backfilled from the other
// side (consensus-only observations carry no size). Merging a block with a
// different hash is a guarded no-op.
func (b *Block) Merge(another *Block) {
	if b.Hash != another.Hash {
		return
	}

	if b.Size == 0 && another.Size > 0 {
		b.Size = another.Size
	}

	for key, samples := range another.Latencies {
		if existing, ok := b.Latencies[key]; ok {
			b.Latencies[key] = append(existing, samples...)
		} else {
			b.Latencies[key] = samples
		}
	}
}

// SetBlockEventRecord appends the record's per-stage durations and custom
// values to this block's sample lists. Records for a different hash are
// ignored.
func (b *Block) SetBlockEventRecord(record *BlockEventRecord) {
	if b.Hash != record.Hash {
		return
	}

	for _, t := range BlockEventTypes() {
		if v, ok := record.Stages[t]; ok {
			b.Latencies[t.Name()] = append(b.Latencies[t.Name()], v)
		}
	}
	for key, v := range record.Custom {
		b.Latencies[key] = append(b.Latencies[key], v)
	}
}

// LatencyCount returns the number of samples recorded for the given
// broadcast type.
func (b *Block) LatencyCount(t BlockLatencyType) int {
	return len(b.Latencies[t.Name()])
}

// GetLatencies returns the sample list for a latency key, nil if absent.
func (b *Block) GetLatencies(key string) []float64 {
	return b.Latencies[key]
}

// NonDefaultLatencies returns the custom (node-defined) latency keys and
// their samples.
func (b *Block) NonDefaultLatencies() map[string][]float64 {
	custom := make(map[string][]float64)
	for key, samples := range b.Latencies {
		if !IsDefaultLatencyKey(key) {
			custom[key] = samples
		}
	}
	return custom
}
