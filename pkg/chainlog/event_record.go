// =============================================================================
// pkg/chainlog/event_record.go - Block Event Records
// =============================================================================
//
// "Block events record complete." / "Block events record partially complete."
// lines carry a comma-separated list of "key: value" pairs with cumulative
// stage timestamps in microseconds since the block's header arrived. Parsing
// converts the cumulative values into per-stage durations in seconds:
//
//	HeaderReady          = header_ready
//	BodyReady            = body_ready - header_ready
//	SyncGraph            = sync_graph - body_ready
//	ConsensusGraphStart  = consensys_graph_insert - sync_graph
//	ConsensusGraphReady  = consensys_graph_ready - consensys_graph_insert
//
// and, when the pivot-only triple is present:
//
//	ComputeEpoch         = compute_epoch - consensys_graph_ready
//	NotifyTxPool         = notify_tx_pool - compute_epoch
//	TxPoolUpdated        = tx_pool_updated - notify_tx_pool
//
// Custom counter keys are diffed pairwise between consecutive stages; gauge
// keys carry their value through unscaled.
//
// =============================================================================

package chainlog

import (
	"regexp"
	"strconv"
	"strings"
)

// eventMicrosBase converts cumulative stage values (microseconds) to seconds.
const eventMicrosBase = 1_000_000

var eventRecordRe = regexp.MustCompile(`Block events record ([a-z\s]*)\. (.*)`)

// BlockEventRecord is the parsed form of one event record line: per-stage
// durations for the built-in pipeline stages plus any custom keys, all
// belonging to one block.
type BlockEventRecord struct {
	Hash   string
	Stages map[BlockEventType]float64
	Custom map[string]float64
}

// ParseBlockEventRecord parses an event record line. It returns (nil, nil)
// when the line does not match the record pattern at all, and a ParseError
// when a matching line is missing a required stage or carries a malformed
// value.
func ParseBlockEventRecord(line string) (*BlockEventRecord, error) {
	m := eventRecordRe.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}

	fields := make(map[string]string)
	values := make(map[string]int64)
	for _, item := range strings.Split(strings.TrimSpace(m[2]), ", ") {
		key, value, found := strings.Cut(item, ": ")
		if !found {
			return nil, parseErrorf(line, "malformed event record item %q", item)
		}
		if key == "hash" || key == "start_timestamp" {
			fields[key] = value
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, parseErrorf(line, "non-numeric event record value %s: %s", key, value)
		}
		values[key] = n
	}

	rec := &BlockEventRecord{
		Hash:   fields["hash"],
		Stages: make(map[BlockEventType]float64),
		Custom: make(map[string]float64),
	}

	get := func(key string) (int64, error) {
		v, ok := values[key]
		if !ok {
			return 0, parseErrorf(line, "event record missing required key %q", key)
		}
		return v, nil
	}

	headerReady, err := get("header_ready")
	if err != nil {
		return nil, err
	}
	bodyReady, err := get("body_ready")
	if err != nil {
		return nil, err
	}
	syncGraph, err := get("sync_graph")
	if err != nil {
		return nil, err
	}
	consInsert, err := get("consensys_graph_insert")
	if err != nil {
		return nil, err
	}
	consReady, err := get("consensys_graph_ready")
	if err != nil {
		return nil, err
	}

	rec.Stages[HeaderReady] = float64(headerReady) / eventMicrosBase
	rec.Stages[BodyReady] = float64(bodyReady-headerReady) / eventMicrosBase
	rec.Stages[SyncGraph] = float64(syncGraph-bodyReady) / eventMicrosBase
	rec.Stages[ConsensusGraphStart] = float64(consInsert-syncGraph) / eventMicrosBase
	rec.Stages[ConsensusGraphReady] = float64(consReady-consInsert) / eventMicrosBase

	if computeEpoch, ok := values["compute_epoch"]; ok {
		notifyTxPool, err := get("notify_tx_pool")
		if err != nil {
			return nil, err
		}
		txPoolUpdated, err := get("tx_pool_updated")
		if err != nil {
			return nil, err
		}
		rec.Stages[ComputeEpoch] = float64(computeEpoch-consReady) / eventMicrosBase
		rec.Stages[NotifyTxPool] = float64(notifyTxPool-computeEpoch) / eventMicrosBase
		rec.Stages[TxPoolUpdated] = float64(txPoolUpdated-notifyTxPool) / eventMicrosBase
	}

	rec.parseCustomKeys(values)
	return rec, nil
}

// parseCustomKeys extracts custom counter stages and gauges. Counter stages
// are diffed pairwise (stage i -> i+1) until the first gap in the stage
// sequence; gauges pass their raw value through.
func (r *BlockEventRecord) parseCustomKeys(values map[string]int64) {
	counters := make(map[string]map[int]int64)
	gauges := make(map[string]int64)

	for key, value := range values {
		k, ok := ParseCustomEventKey(key)
		if !ok {
			continue
		}
		if k.Stage == -1 {
			gauges[k.TypeName] = value
			continue
		}
		if counters[k.TypeName] == nil {
			counters[k.TypeName] = make(map[int]int64)
		}
		counters[k.TypeName][k.Stage] = value
	}

	for name, value := range gauges {
		r.Custom[CustomEventKey{TypeName: name, Stage: -1}.Name()] = float64(value)
	}
	for name, stages := range counters {
		if _, shadowed := gauges[name]; shadowed {
			continue
		}
		for i := 0; ; i++ {
			a, okA := stages[i]
			b, okB := stages[i+1]
			if !okA || !okB {
				break
			}
			key := CustomEventKey{TypeName: name, Stage: i}.Name()
			r.Custom[key] = float64(b-a) / eventMicrosBase
		}
	}
}
