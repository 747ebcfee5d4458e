package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/aggregator"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

const testBlockHash = "0x0102030405060708091011121314151617181920212223242526272829303132"

func captureLogger() (logging.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return logging.NewWriterLogger(buf, buf), buf
}

func rawHostLog(receiveOffset float64) string {
	parent := "0x1112131415161718192021222324252627282930313233343536373839404142"
	ts := fmt.Sprintf("2020-03-14T13:35:%06.3f+00:00", 1+receiveOffset)
	return fmt.Sprintf(
		"%s INFO new block received: parent_hash: %s, height: 7, timestamp: 1584192900, hash: Some(%s), referee_hashes: [] tx_count=5, block_size=1000\n"+
			"%s INFO new block inserted into graph: parent_hash: %s, height: 7, timestamp: 1584192900, hash: Some(%s), referee_hashes: [] tx_count=5, block_size=1000\n",
		ts, parent, testBlockHash, ts, parent, testBlockHash)
}

func writeHostDir(t *testing.T, root, host, content string) string {
	t.Helper()
	dir := filepath.Join(root, host)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conflux.log"), []byte(content), 0644))
	return dir
}

func TestLoadRawHosts(t *testing.T) {
	root := t.TempDir()
	writeHostDir(t, root, "10.0.0.1", rawHostLog(0.1))
	writeHostDir(t, root, "10.0.0.2", rawHostLog(0.2))
	writeHostDir(t, root, "10.0.0.3", rawHostLog(0.3))

	log, _ := captureLogger()
	agg := aggregator.NewInMemoryAggregator(log)

	l := NewDirectoryLoader(root, log)
	folded, err := l.Load(agg)
	require.NoError(t, err)
	assert.Equal(t, 3, folded)
	assert.Equal(t, 3, agg.NodeCount())

	agg.Validate()
	require.NoError(t, agg.GenerateLatencyStat(false))

	cnt := agg.StatBlockLatency(chainlog.Sync.Name(), stats.Cnt)
	v, ok := cnt.Get(stats.Min)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestLoadDumpFiles(t *testing.T) {
	root := t.TempDir()
	logDir := writeHostDir(t, filepath.Join(root, "raw"), "host", rawHostLog(0.1))

	reducer, err := mapreduce.ReduceFiles([]string{filepath.Join(logDir, "conflux.log")})
	require.NoError(t, err)

	dumpDir := filepath.Join(root, "dumps", "10.0.0.1")
	require.NoError(t, os.MkdirAll(dumpDir, 0755))
	require.NoError(t, reducer.Dump(filepath.Join(dumpDir, mapreduce.DumpFileName)))

	log, _ := captureLogger()
	agg := aggregator.NewInMemoryAggregator(log)

	l := NewDirectoryLoader(filepath.Join(root, "dumps"), log)
	folded, err := l.Load(agg)
	require.NoError(t, err)
	assert.Equal(t, 1, folded)
	assert.Contains(t, agg.Blocks, testBlockHash)
}

func TestLoadSkipsCorruptHost(t *testing.T) {
	root := t.TempDir()
	writeHostDir(t, root, "10.0.0.1", rawHostLog(0.1))

	// a dump that is not valid JSON must not abort the run
	badDir := filepath.Join(root, "10.0.0.2")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, mapreduce.DumpFileName), []byte("not json"), 0644))

	log, logged := captureLogger()
	agg := aggregator.NewInMemoryAggregator(log)

	l := NewDirectoryLoader(root, log)
	folded, err := l.Load(agg)
	require.NoError(t, err)
	assert.Equal(t, 1, folded)
	assert.Contains(t, logged.String(), "Skipping host")
}

func TestLoadEmptyDirectory(t *testing.T) {
	log, _ := captureLogger()
	agg := aggregator.NewInMemoryAggregator(log)

	l := NewDirectoryLoader(t.TempDir(), log)
	_, err := l.Load(agg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no host logs found")
}

func TestLoadAllHostsFail(t *testing.T) {
	root := t.TempDir()
	badDir := filepath.Join(root, "10.0.0.1")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, mapreduce.DumpFileName), []byte("{"), 0644))

	log, _ := captureLogger()
	agg := aggregator.NewInMemoryAggregator(log)

	l := NewDirectoryLoader(root, log)
	_, err := l.Load(agg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load")
}
