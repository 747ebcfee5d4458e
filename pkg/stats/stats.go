// =============================================================================
// pkg/stats/stats.go - Percentile Statistics
// =============================================================================
//
// This package provides the nearest-rank percentile summary used throughout
// the analyzer. A Statistics value is computed once from a sample slice and
// is immutable afterwards; reports iterate the Percentile enumeration to
// render rows with a fixed column order.
//
// Percentile selection uses truncated indexing into the sorted samples:
//
//	value = sorted[int(float64(n-1) * p)]
//
// so Min is sorted[0], Max is sorted[n-1], and P50 of an even-length slice is
// the lower median. Avg is the arithmetic mean rounded to 2 decimals.
//
// =============================================================================

package stats

import (
	"encoding/json"
	"sort"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
)

// =============================================================================
// Percentile Enumeration
// =============================================================================

// Percentile identifies one summary column of a Statistics value.
type Percentile int

const (
	Min Percentile = iota
	Avg
	P10
	P30
	P50
	P80
	P90
	P95
	P99
	P999
	Max
	Cnt
)

var percentileNames = map[Percentile]string{
	Min:  "Min",
	Avg:  "Avg",
	P10:  "P10",
	P30:  "P30",
	P50:  "P50",
	P80:  "P80",
	P90:  "P90",
	P95:  "P95",
	P99:  "P99",
	P999: "P999",
	Max:  "Max",
	Cnt:  "Cnt",
}

// quantiles maps rank percentiles to their position in [0, 1].
// Avg and Cnt are not rank-based and are absent here.
var quantiles = map[Percentile]float64{
	Min:  0,
	P10:  0.1,
	P30:  0.3,
	P50:  0.5,
	P80:  0.8,
	P90:  0.9,
	P95:  0.95,
	P99:  0.99,
	P999: 0.999,
	Max:  1,
}

// String returns the display name of the percentile, e.g. "P50".
func (p Percentile) String() string {
	return percentileNames[p]
}

// Percentiles returns all summary columns in report order.
func Percentiles() []Percentile {
	return []Percentile{Min, Avg, P10, P30, P50, P80, P90, P95, P99, P999, Max, Cnt}
}

// NodePercentiles returns the columns used when re-aggregating per-node
// summaries: everything except Cnt.
func NodePercentiles() []Percentile {
	return []Percentile{Min, Avg, P10, P30, P50, P80, P90, P95, P99, P999, Max}
}

// =============================================================================
// Statistics
// =============================================================================

// Statistics is a fixed summary of a float64 sample set. The zero value is
// the summary of an empty sample set: Get reports ok=false for every column.
type Statistics struct {
	values map[Percentile]float64
}

// NewStatistics computes the summary of the given samples. The input slice is
// not modified. An empty or nil input yields an empty summary.
func NewStatistics(samples []float64) Statistics {
	if len(samples) == 0 {
		return Statistics{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	values := make(map[Percentile]float64, len(percentileNames))
	values[Avg] = helpers.Round2(sum / float64(n))
	values[Cnt] = float64(n)
	for p, q := range quantiles {
		values[p] = sorted[int(float64(n-1)*q)]
	}

	return Statistics{values: values}
}

// Get returns the value of one summary column. ok is false when the
// Statistics was computed from an empty sample set.
func (s Statistics) Get(p Percentile) (float64, bool) {
	if s.values == nil {
		return 0, false
	}
	v, ok := s.values[p]
	return v, ok
}

// Count returns the sample count, 0 for an empty summary.
func (s Statistics) Count() int {
	v, ok := s.Get(Cnt)
	if !ok {
		return 0
	}
	return int(v)
}

// Empty reports whether the summary was computed from no samples.
func (s Statistics) Empty() bool {
	return s.values == nil || len(s.values) == 0
}

// =============================================================================
// JSON (reducer dump format)
// =============================================================================

// MarshalJSON encodes the summary as an object keyed by column name, e.g.
// {"Min":0.1,"Avg":0.11,...,"Cnt":3}. An empty summary encodes as {}.
func (s Statistics) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(s.values))
	for p, v := range s.values {
		out[p.String()] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the object form produced by MarshalJSON. Unknown
// keys are ignored.
func (s *Statistics) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		s.values = nil
		return nil
	}
	byName := make(map[string]Percentile, len(percentileNames))
	for p, name := range percentileNames {
		byName[name] = p
	}
	s.values = make(map[Percentile]float64, len(raw))
	for name, v := range raw {
		if p, ok := byName[name]; ok {
			s.values[p] = v
		}
	}
	return nil
}
