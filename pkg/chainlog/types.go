// =============================================================================
// pkg/chainlog/types.go - Latency Key Enumerations
// =============================================================================
//
// Block latency samples are keyed by string name inside a Block. Three keys
// come from broadcast observation (Receive/Sync/Cons), eight from the block
// event pipeline stages, and an open-ended set from custom stage counters
// and gauges emitted by instrumented nodes.
//
// =============================================================================

package chainlog

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Broadcast latency types
// =============================================================================

// BlockLatencyType identifies when a node observed a block: arrival over the
// wire (Receive), insertion into the sync graph (Sync), and insertion into
// the consensus graph (Cons).
type BlockLatencyType int

const (
	Receive BlockLatencyType = iota
	Sync
	Cons
)

var blockLatencyNames = [...]string{"Receive", "Sync", "Cons"}

// Name returns the latency map key for this type.
func (t BlockLatencyType) Name() string {
	return blockLatencyNames[t]
}

// BlockLatencyTypes returns the broadcast latency types in report order.
func BlockLatencyTypes() []BlockLatencyType {
	return []BlockLatencyType{Receive, Sync, Cons}
}

// =============================================================================
// Block event pipeline stages
// =============================================================================

// BlockEventType identifies one stage of the per-block processing pipeline
// reported by "Block events record" lines. Stages from ComputeEpoch onward
// only occur on pivot chain blocks.
type BlockEventType int

const (
	HeaderReady BlockEventType = iota
	BodyReady
	SyncGraph
	ConsensusGraphStart
	ConsensusGraphReady
	ComputeEpoch
	NotifyTxPool
	TxPoolUpdated
)

var blockEventNames = [...]string{
	"HeaderReady",
	"BodyReady",
	"SyncGraph",
	"ConsensusGraphStart",
	"ConsensusGraphReady",
	"ComputeEpoch",
	"NotifyTxPool",
	"TxPoolUpdated",
}

// Name returns the latency map key for this stage.
func (t BlockEventType) Name() string {
	return blockEventNames[t]
}

// PivotOnly reports whether the stage is only reached by pivot chain blocks,
// so non-pivot blocks legitimately lack samples for it.
func (t BlockEventType) PivotOnly() bool {
	return t >= ComputeEpoch
}

// BlockEventTypes returns the pipeline stages in pipeline order.
func BlockEventTypes() []BlockEventType {
	return []BlockEventType{
		HeaderReady,
		BodyReady,
		SyncGraph,
		ConsensusGraphStart,
		ConsensusGraphReady,
		ComputeEpoch,
		NotifyTxPool,
		TxPoolUpdated,
	}
}

// =============================================================================
// Default key set
// =============================================================================

var defaultKeySet = buildDefaultKeySet()

func buildDefaultKeySet() map[string]bool {
	set := make(map[string]bool)
	for _, t := range BlockLatencyTypes() {
		set[t.Name()] = true
	}
	for _, t := range BlockEventTypes() {
		set[t.Name()] = true
	}
	return set
}

// DefaultLatencyKeys returns the names of all built-in latency keys: the
// three broadcast types followed by the eight pipeline stages.
func DefaultLatencyKeys() []string {
	keys := make([]string, 0, len(defaultKeySet))
	for _, t := range BlockLatencyTypes() {
		keys = append(keys, t.Name())
	}
	for _, t := range BlockEventTypes() {
		keys = append(keys, t.Name())
	}
	return keys
}

// IsDefaultLatencyKey reports whether name is a built-in latency key.
func IsDefaultLatencyKey(name string) bool {
	return defaultKeySet[name]
}

// IsPivotOnlyKey reports whether name is a built-in key that only pivot
// chain blocks produce samples for.
func IsPivotOnlyKey(name string) bool {
	for _, t := range BlockEventTypes() {
		if t.PivotOnly() && t.Name() == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Custom event keys
// =============================================================================

var (
	customStageKeyRe = regexp.MustCompile(`^custom_([a-zA-Z0-9_]+)_([0-9]+)$`)
	gaugeKeyRe       = regexp.MustCompile(`^gauge_([a-zA-Z0-9_]+)$`)
)

// CustomEventKey is a node-defined latency key parsed from an event record:
// either one stage of a custom counter ("custom_<snake_name>_<stage>") or a
// gauge ("gauge_<snake_name>", Stage == -1).
type CustomEventKey struct {
	TypeName string
	Stage    int
}

// ParseCustomEventKey recognizes custom counter and gauge key names.
// ok is false for any other key.
func ParseCustomEventKey(text string) (CustomEventKey, bool) {
	if m := customStageKeyRe.FindStringSubmatch(text); m != nil {
		stage, err := strconv.Atoi(m[2])
		if err != nil {
			return CustomEventKey{}, false
		}
		return CustomEventKey{TypeName: snakeToCamel(m[1]), Stage: stage}, true
	}
	if m := gaugeKeyRe.FindStringSubmatch(text); m != nil {
		return CustomEventKey{TypeName: snakeToCamel(m[1]), Stage: -1}, true
	}
	return CustomEventKey{}, false
}

// Name returns the display key: "<CamelName><stage>" for counters, the bare
// camel name for gauges.
func (k CustomEventKey) Name() string {
	if k.Stage >= 0 {
		return k.TypeName + strconv.Itoa(k.Stage)
	}
	return k.TypeName
}

func snakeToCamel(snake string) string {
	parts := strings.Split(snake, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}
