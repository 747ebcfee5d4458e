// =============================================================================
// pkg/slowserver/slowserver.go - Slow Server Ranking
// =============================================================================
//
// Ranks the hosts of an experiment run by how likely they are to be the
// bottleneck, from two independent signals:
//
//   - RPC generation times scraped from remote_simulate.log: how long each
//     host took to answer generate-block RPCs.
//   - Block propagation behavior from the per-node reducer dumps of the
//     slowest RPC hosts: tail latencies, sync/cons gap, by-block ratio.
//
// Both signals collapse into a weighted score; higher means slower. Scores
// are heuristic rankings, not latencies.
//
// =============================================================================

package slowserver

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/chainlog"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/hostmeta"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/mapreduce"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/stats"
)

// RemoteLogName is the orchestrator log scraped for RPC times.
const RemoteLogName = "remote_simulate.log"

// HostsFileName is the optional placement metadata file of a run.
const HostsFileName = "hosts.json"

var rpcLineRe = regexp.MustCompile(
	`node\s+((\d+\.\d+\.\d+\.\d+)-\d+)\s+generate block\s+0x[0-9a-f]+,\s+rpc time\s+([0-9]+(?:\.[0-9]+)?)`)

// RPCSummary ranks one host by its generate-block RPC times.
type RPCSummary struct {
	Host     string  `json:"host"`
	Samples  int     `json:"samples"`
	Avg      float64 `json:"avg"`
	P95      float64 `json:"p95"`
	P99      float64 `json:"p99"`
	Max      float64 `json:"max"`
	Score    float64 `json:"score"`
	Region   string  `json:"region,omitempty"`
	Zone     string  `json:"zone,omitempty"`
	Provider string  `json:"provider,omitempty"`
}

// PropagationSummary ranks one host by its block propagation behavior.
type PropagationSummary struct {
	Host            string  `json:"host"`
	Blocks          int     `json:"blocks"`
	Txs             int     `json:"txs"`
	ByBlockRatioAvg float64 `json:"by_block_ratio_avg"`
	SyncConsGapAvg  float64 `json:"sync_cons_gap_avg"`
	ReceiveP95      float64 `json:"receive_p95"`
	SyncP95         float64 `json:"sync_p95"`
	ConsP95         float64 `json:"cons_p95"`
	Score           float64 `json:"score"`
}

// RunResult is the full analysis of one run directory.
type RunResult struct {
	Run               string               `json:"run"`
	Path              string               `json:"path"`
	RPCRank           []RPCSummary         `json:"rpc_rank"`
	PropagationRank   []PropagationSummary `json:"propagation_rank"`
	PropagationErrors []string             `json:"propagation_errors"`
}

// =============================================================================
// RPC signal
// =============================================================================

// ParseRPCTimes scrapes per-host RPC times from the orchestrator log. A
// missing log yields an empty map.
func ParseRPCTimes(remoteLog string) (map[string][]float64, error) {
	rpcByHost := make(map[string][]float64)

	f, err := os.Open(remoteLog)
	if os.IsNotExist(err) {
		return rpcByHost, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", remoteLog)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := rpcLineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		rpc, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		host := m[2]
		rpcByHost[host] = append(rpcByHost[host], rpc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", remoteLog)
	}
	return rpcByHost, nil
}

// RankRPCHosts scores each host's RPC samples and sorts slowest-first.
func RankRPCHosts(rpcByHost map[string][]float64, meta map[string]hostmeta.Host) []RPCSummary {
	rows := make([]RPCSummary, 0, len(rpcByHost))
	for host, samples := range rpcByHost {
		if len(samples) == 0 {
			continue
		}
		s := stats.NewStatistics(samples)
		avg, _ := s.Get(stats.Avg)
		p95, _ := s.Get(stats.P95)
		p99, _ := s.Get(stats.P99)
		max, _ := s.Get(stats.Max)
		score := 0.45*p95 + 0.35*p99 + 0.20*max

		row := RPCSummary{
			Host:    host,
			Samples: len(samples),
			Avg:     round4(avg),
			P95:     round4(p95),
			P99:     round4(p99),
			Max:     round4(max),
			Score:   round4(score),
		}
		if m, ok := meta[host]; ok {
			row.Region = m.Region
			row.Zone = m.Zone
			row.Provider = m.Provider
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Host < rows[j].Host
	})
	return rows
}

// =============================================================================
// Propagation signal
// =============================================================================

// SummarizeNodePropagation scores one host's reduced log state.
func SummarizeNodePropagation(reducer *mapreduce.HostLogReducer, host string) PropagationSummary {
	var receive, sync, cons []float64
	for _, block := range reducer.Blocks {
		receive = append(receive, block.GetLatencies(chainlog.Receive.Name())...)
		sync = append(sync, block.GetLatencies(chainlog.Sync.Name())...)
		cons = append(cons, block.GetLatencies(chainlog.Cons.Name())...)
	}

	var gapAvgs []float64
	for _, stat := range reducer.SyncConsGapStats {
		if v, ok := stat.Get(stats.Avg); ok {
			gapAvgs = append(gapAvgs, v)
		}
	}

	byBlockAvg := meanOrZero(reducer.ByBlockRatio)
	gapAvg := meanOrZero(gapAvgs)
	receiveP95 := p95OrZero(receive)
	syncP95 := p95OrZero(sync)
	consP95 := p95OrZero(cons)

	score := 0.45*receiveP95 + 0.35*syncP95 + 0.20*consP95 + 0.05*gapAvg + 5.0*byBlockAvg

	return PropagationSummary{
		Host:            host,
		Blocks:          len(reducer.Blocks),
		Txs:             len(reducer.Txs),
		ByBlockRatioAvg: round6(byBlockAvg),
		SyncConsGapAvg:  round4(gapAvg),
		ReceiveP95:      round4(receiveP95),
		SyncP95:         round4(syncP95),
		ConsP95:         round4(consP95),
		Score:           round4(score),
	}
}

// findNodeDump locates the reducer dump of one node directory, accepting
// archived variants.
func findNodeDump(nodeDir string) (string, bool) {
	for _, name := range []string{
		mapreduce.DumpFileName,
		mapreduce.DumpFileName + ".gz",
		mapreduce.DumpFileName + ".zst",
	} {
		path := filepath.Join(nodeDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// =============================================================================
// Run analysis
// =============================================================================

// AnalyzeRun produces the full ranking of one run directory. The propagation
// signal is only computed for the topCandidates slowest RPC hosts: loading a
// reducer dump is expensive and fast hosts are not suspects.
func AnalyzeRun(runDir string, topCandidates int) (*RunResult, error) {
	meta, err := hostmeta.Load(filepath.Join(runDir, HostsFileName))
	if err != nil {
		return nil, err
	}

	rpcByHost, err := ParseRPCTimes(filepath.Join(runDir, RemoteLogName))
	if err != nil {
		return nil, err
	}
	rpcRank := RankRPCHosts(rpcByHost, meta)

	result := &RunResult{
		Run:               filepath.Base(runDir),
		Path:              runDir,
		RPCRank:           rpcRank,
		PropagationRank:   []PropagationSummary{},
		PropagationErrors: []string{},
	}

	nodesDir := filepath.Join(runDir, "nodes")
	if info, err := os.Stat(nodesDir); err == nil && info.IsDir() {
		candidates := rpcRank
		if len(candidates) > topCandidates {
			candidates = candidates[:topCandidates]
		}
		for _, row := range candidates {
			nodeDir := filepath.Join(nodesDir, row.Host+"-0")
			if _, err := os.Stat(nodeDir); err != nil {
				continue
			}

			dump, ok := findNodeDump(nodeDir)
			if !ok {
				result.PropagationErrors = append(result.PropagationErrors,
					row.Host+": missing "+mapreduce.DumpFileName)
				continue
			}

			reducer, err := mapreduce.LoadReducerFile(dump)
			if err != nil {
				result.PropagationErrors = append(result.PropagationErrors,
					row.Host+": "+err.Error())
				continue
			}
			result.PropagationRank = append(result.PropagationRank,
				SummarizeNodePropagation(reducer, row.Host))
		}

		sort.Slice(result.PropagationRank, func(i, j int) bool {
			if result.PropagationRank[i].Score != result.PropagationRank[j].Score {
				return result.PropagationRank[i].Score > result.PropagationRank[j].Score
			}
			return result.PropagationRank[i].Host < result.PropagationRank[j].Host
		})
	}

	return result, nil
}

// =============================================================================
// Helpers
// =============================================================================

func meanOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func p95OrZero(values []float64) float64 {
	v, ok := stats.NewStatistics(values).Get(stats.P95)
	if !ok {
		return 0
	}
	return v
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
