package slowserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/hostmeta"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

func rpcLine(ip string, rpc float64) string {
	return fmt.Sprintf("2026-02-26 16:07:03 INFO node %s-0 generate block 0xabc123, rpc time %v", ip, rpc)
}

func TestParseRPCTimes(t *testing.T) {
	path := filepath.Join(t.TempDir(), RemoteLogName)
	content := rpcLine("10.0.0.1", 0.5) + "\n" +
		rpcLine("10.0.0.1", 1.5) + "\n" +
		rpcLine("10.0.0.2", 0.2) + "\n" +
		"unrelated line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	byHost, err := ParseRPCTimes(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, byHost["10.0.0.1"])
	assert.Equal(t, []float64{0.2}, byHost["10.0.0.2"])
}

func TestParseRPCTimesMissingLog(t *testing.T) {
	byHost, err := ParseRPCTimes(filepath.Join(t.TempDir(), RemoteLogName))
	require.NoError(t, err)
	assert.Empty(t, byHost)
}

func TestRankRPCHosts(t *testing.T) {
	byHost := map[string][]float64{
		"10.0.0.1": {0.1, 0.2},
		"10.0.0.2": {1.0, 2.0},
	}
	meta := map[string]hostmeta.Host{
		"10.0.0.2": {IP: "10.0.0.2", Zone: "us-west-2a", Provider: "aws"},
	}

	rank := RankRPCHosts(byHost, meta)
	require.Len(t, rank, 2)

	// slowest first
	assert.Equal(t, "10.0.0.2", rank[0].Host)
	assert.Equal(t, "aws", rank[0].Provider)
	assert.Equal(t, 2, rank[0].Samples)
	// two samples: p95/p99 land on the lower sample, max on the upper
	// 0.45*1.0 + 0.35*1.0 + 0.20*2.0
	assert.Equal(t, 1.2, rank[0].Score)
	assert.Empty(t, rank[1].Provider)
}

func writeNodeDump(t *testing.T, nodesDir, host string, receiveLatency float64) {
	t.Helper()
	reducer := mapreduce.NewHostLogReducer()
	reducer.SyncConsGapStats = []stats.Statistics{stats.NewStatistics([]float64{2, 4})}
	reducer.ByBlockRatio = []float64{0.5}

	block := chainlog.NewBlock("0xb1", "0xparent", 100, 1, nil)
	block.Latencies[chainlog.Receive.Name()] = []float64{receiveLatency}
	block.Latencies[chainlog.Sync.Name()] = []float64{receiveLatency * 2}
	block.Latencies[chainlog.Cons.Name()] = []float64{receiveLatency * 3}
	reducer.Blocks["0xb1"] = block

	dir := filepath.Join(nodesDir, host+"-0")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, reducer.Dump(filepath.Join(dir, mapreduce.DumpFileName)))
}

func TestSummarizeNodePropagation(t *testing.T) {
	nodesDir := t.TempDir()
	writeNodeDump(t, nodesDir, "10.0.0.1", 1.0)

	reducer, err := mapreduce.LoadReducerFile(
		filepath.Join(nodesDir, "10.0.0.1-0", mapreduce.DumpFileName))
	require.NoError(t, err)

	summary := SummarizeNodePropagation(reducer, "10.0.0.1")
	assert.Equal(t, 1, summary.Blocks)
	assert.Equal(t, 1.0, summary.ReceiveP95)
	assert.Equal(t, 2.0, summary.SyncP95)
	assert.Equal(t, 3.0, summary.ConsP95)
	assert.Equal(t, 3.0, summary.SyncConsGapAvg)
	assert.Equal(t, 0.5, summary.ByBlockRatioAvg)
	// 0.45*1 + 0.35*2 + 0.20*3 + 0.05*3 + 5.0*0.5
	assert.Equal(t, 4.4, summary.Score)
}

func TestAnalyzeRun(t *testing.T) {
	runDir := t.TempDir()

	content := rpcLine("10.0.0.1", 0.1) + "\n" + rpcLine("10.0.0.2", 5.0) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(runDir, RemoteLogName), []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, HostsFileName),
		[]byte(`[{"ip": "10.0.0.2", "provider": "aws"}]`), 0644))

	nodesDir := filepath.Join(runDir, "nodes")
	writeNodeDump(t, nodesDir, "10.0.0.2", 1.0)

	// only the single slowest RPC host is inspected for propagation
	result, err := AnalyzeRun(runDir, 1)
	require.NoError(t, err)

	require.Len(t, result.RPCRank, 2)
	assert.Equal(t, "10.0.0.2", result.RPCRank[0].Host)
	assert.Equal(t, "aws", result.RPCRank[0].Provider)

	require.Len(t, result.PropagationRank, 1)
	assert.Equal(t, "10.0.0.2", result.PropagationRank[0].Host)
	assert.Empty(t, result.PropagationErrors)
}

func TestAnalyzeRunMissingDump(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(runDir, RemoteLogName),
		[]byte(rpcLine("10.0.0.1", 1.0)+"\n"), 0644))

	nodeDir := filepath.Join(runDir, "nodes", "10.0.0.1-0")
	require.NoError(t, os.MkdirAll(nodeDir, 0755))

	result, err := AnalyzeRun(runDir, 10)
	require.NoError(t, err)
	assert.Empty(t, result.PropagationRank)
	require.Len(t, result.PropagationErrors, 1)
	assert.Contains(t, result.PropagationErrors[0], "10.0.0.1")
}

func TestWriteArtifacts(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "out")
	result := &RunResult{
		Run:               "20260226160703",
		Path:              "/logs/20260226160703",
		RPCRank:           []RPCSummary{{Host: "10.0.0.1", Score: 1.5}},
		PropagationRank:   []PropagationSummary{},
		PropagationErrors: []string{},
	}

	require.NoError(t, WriteRunResult(outputDir, result))
	require.NoError(t, WriteSummary(outputDir, []*RunResult{result}))

	data, err := os.ReadFile(filepath.Join(outputDir, "20260226160703.json"))
	require.NoError(t, err)
	var loaded RunResult
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, result.Run, loaded.Run)
	require.Len(t, loaded.RPCRank, 1)
	assert.Equal(t, 1.5, loaded.RPCRank[0].Score)

	data, err = os.ReadFile(filepath.Join(outputDir, "summary.json"))
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Len(t, summary.Logs, 1)
}

func TestPrintRunReport(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logging.NewWriterLogger(buf, buf)

	result := &RunResult{
		Run:     "run1",
		RPCRank: []RPCSummary{{Host: "10.0.0.1", Score: 1.5, Samples: 3}},
	}
	PrintRunReport(result, 10, log)

	out := buf.String()
	assert.Contains(t, out, "Run run1")
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "score=1.500")
}
