// =============================================================================
// pkg/mapreduce/mapper.go - Per-File Map Phase
// =============================================================================
//
// A NodeLogMapper scans one node's raw log file line by line and accumulates
// the entities it mentions. Marker phrases dispatch each line to the
// corresponding parser; a line may carry more than one marker, and every
// marker on it is processed. Parse errors are fatal to the file: a marker
// with a malformed field means the log format drifted, and dropped samples
// would silently skew every percentile downstream.
//
// =============================================================================

package mapreduce

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
)

// maxLogLineSize caps the line scanner buffer. Referee-heavy block lines run
// long but stay well under this.
const maxLogLineSize = 4 * 1024 * 1024

// NodeLogMapper holds the map-phase state of one log file.
type NodeLogMapper struct {
	LogFile string

	Blocks       map[string]*chainlog.Block
	Txs          map[string]*chainlog.Transaction
	ByBlockRatio []float64
	SyncConsGaps []float64

	linesScanned int
}

// NewNodeLogMapper creates an empty mapper for the given log file.
func NewNodeLogMapper(logFile string) *NodeLogMapper {
	return &NodeLogMapper{
		LogFile: logFile,
		Blocks:  make(map[string]*chainlog.Block),
		Txs:     make(map[string]*chainlog.Transaction),
	}
}

// MapFile runs the map phase over one log file.
func MapFile(logFile string) (*NodeLogMapper, error) {
	mapper := NewNodeLogMapper(logFile)
	if err := mapper.Map(); err != nil {
		return nil, err
	}
	return mapper, nil
}

// Map streams the mapper's log file and parses every line.
func (m *NodeLogMapper) Map() error {
	reader, err := OpenLogReader(m.LogFile)
	if err != nil {
		return err
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLogLineSize)

	for scanner.Scan() {
		m.linesScanned++
		if err := m.ParseLogLine(scanner.Text()); err != nil {
			return errors.Wrapf(err, "failed to parse %s line %d", m.LogFile, m.linesScanned)
		}
	}

	return errors.Wrapf(scanner.Err(), "failed to read %s", m.LogFile)
}

// LinesScanned returns the number of lines the map phase consumed.
func (m *NodeLogMapper) LinesScanned() int {
	return m.linesScanned
}

// ParseLogLine dispatches one line by its marker phrases.
func (m *NodeLogMapper) ParseLogLine(line string) error {
	if strings.Contains(line, "transaction received by block") {
		field, err := chainlog.ParseField(line, "ratio=", "")
		if err != nil {
			return err
		}
		ratio, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return errors.Wrapf(err, "invalid by-block ratio %q", field)
		}
		m.ByBlockRatio = append(m.ByBlockRatio, ratio)
	}

	if strings.Contains(line, "new block received") {
		block, err := chainlog.ParseBlockReceive(line, chainlog.Receive)
		if err != nil {
			return err
		}
		chainlog.AddOrMergeBlock(m.Blocks, block)
	}

	if strings.Contains(line, "new block inserted into graph") {
		block, err := chainlog.ParseBlockReceive(line, chainlog.Sync)
		if err != nil {
			return err
		}
		chainlog.AddOrMergeBlock(m.Blocks, block)
	}

	if strings.Contains(line, "insert new block into consensus") {
		block, err := chainlog.ParseBlockReceive(line, chainlog.Cons)
		if err != nil {
			return err
		}
		chainlog.AddOrMergeBlock(m.Blocks, block)
	}

	if strings.Contains(line, "Block events record complete") ||
		strings.Contains(line, "Block events record partially complete") {
		record, err := chainlog.ParseBlockEventRecord(line)
		if err != nil {
			return err
		}
		// records are only applied to blocks this node has already seen
		if record != nil {
			if block, ok := m.Blocks[record.Hash]; ok {
				block.SetBlockEventRecord(record)
			}
		}
	}

	if strings.Contains(line, "Statistics") {
		if err := m.parseSyncConsGap(line); err != nil {
			return err
		}
	}

	if strings.Contains(line, "Sampled transaction") {
		tx, err := chainlog.ParseTransactionReceive(line)
		if err != nil {
			return err
		}
		chainlog.AddOrReplaceTransaction(m.Txs, tx)
	}

	return nil
}

// parseSyncConsGap records the gap between the sync graph and consensus
// graph block counts of a periodic statistics line. The sync graph inserts
// every block before consensus does, so a negative gap is a format or clock
// problem and aborts the file.
func (m *NodeLogMapper) parseSyncConsGap(line string) error {
	syncField, err := chainlog.ParseField(line, "SyncGraphStatistics { inserted_block_count: ", ",")
	if err != nil {
		return err
	}
	syncLen, err := strconv.Atoi(syncField)
	if err != nil {
		return errors.Wrapf(err, "invalid sync graph block count %q", syncField)
	}

	consField, err := chainlog.ParseField(line, "ConsensusGraphStatistics { inserted_block_count: ", ",")
	if err != nil {
		return err
	}
	consLen, err := strconv.Atoi(consField)
	if err != nil {
		return errors.Wrapf(err, "invalid consensus graph block count %q", consField)
	}

	if syncLen < consLen {
		return errors.Errorf("invalid statistics for sync/cons gap: sync = %d < cons = %d", syncLen, consLen)
	}

	m.SyncConsGaps = append(m.SyncConsGaps, float64(syncLen-consLen))
	return nil
}
