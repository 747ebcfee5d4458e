// =============================================================================
// pkg/slowserver/output.go - Analysis Artifacts
// =============================================================================

package slowserver

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
)

// Summary bundles every analyzed run for the summary artifact.
type Summary struct {
	Logs []*RunResult `json:"logs"`
}

// WriteRunResult writes one run's analysis as <run>.json under outputDir.
func WriteRunResult(outputDir string, result *RunResult) error {
	if err := helpers.EnsureDir(outputDir); err != nil {
		return err
	}
	return writeJSON(filepath.Join(outputDir, result.Run+".json"), result)
}

// WriteSummary writes the cross-run summary.json under outputDir.
func WriteSummary(outputDir string, results []*RunResult) error {
	if err := helpers.EnsureDir(outputDir); err != nil {
		return err
	}
	return writeJSON(filepath.Join(outputDir, "summary.json"), Summary{Logs: results})
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", path)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// PrintRunReport logs the human-readable ranking of one run, topN rows per
// signal.
func PrintRunReport(result *RunResult, topN int, log logging.Logger) {
	log.Separator()
	log.Info("Run %s", result.Run)

	rpcRows := result.RPCRank
	if len(rpcRows) > topN {
		rpcRows = rpcRows[:topN]
	}
	if len(rpcRows) == 0 {
		log.Info("No RPC generation lines found in %s", RemoteLogName)
	} else {
		log.Info("Top slow RPC hosts:")
		for _, row := range rpcRows {
			log.Info("  %15s  provider=%s  zone=%s  score=%.3f  p95=%.3fs p99=%.3fs max=%.3fs samples=%d",
				row.Host, row.Provider, row.Zone, row.Score, row.P95, row.P99, row.Max, row.Samples)
		}
	}

	propRows := result.PropagationRank
	if len(propRows) > topN {
		propRows = propRows[:topN]
	}
	if len(propRows) == 0 {
		log.Info("No propagation-risk rows generated (missing node dumps or parse failures)")
	} else {
		log.Info("Top propagation-risk hosts (from node dump files):")
		for _, row := range propRows {
			log.Info("  %15s  score=%.3f  recv_p95=%.3fs sync_p95=%.3fs cons_p95=%.3fs gap_avg=%.2f by_block=%.4f",
				row.Host, row.Score, row.ReceiveP95, row.SyncP95, row.ConsP95,
				row.SyncConsGapAvg, row.ByBlockRatioAvg)
		}
	}

	for _, msg := range result.PropagationErrors {
		log.Error("propagation: %s", msg)
	}
}
