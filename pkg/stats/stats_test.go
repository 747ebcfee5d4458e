package stats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyStatistics(t *testing.T) {
	s := NewStatistics(nil)
	assert.True(t, s.Empty())
	assert.Equal(t, 0, s.Count())

	for _, p := range Percentiles() {
		_, ok := s.Get(p)
		assert.False(t, ok, "empty summary must not expose %s", p)
	}
}

func TestSingleSample(t *testing.T) {
	s := NewStatistics([]float64{3.5})

	for _, p := range NodePercentiles() {
		v, ok := s.Get(p)
		require.True(t, ok)
		assert.Equal(t, 3.5, v, "%s of a single sample", p)
	}
	assert.Equal(t, 1, s.Count())
}

func TestPercentileIndexing(t *testing.T) {
	// 10 samples: index of P50 is int(9*0.5) = 4, the lower median.
	samples := []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5}
	s := NewStatistics(samples)

	get := func(p Percentile) float64 {
		v, ok := s.Get(p)
		require.True(t, ok)
		return v
	}

	assert.Equal(t, 1.0, get(Min))
	assert.Equal(t, 10.0, get(Max))
	assert.Equal(t, 5.0, get(P50))
	assert.Equal(t, 1.0, get(P10))  // int(9*0.1) = 0
	assert.Equal(t, 3.0, get(P30))  // int(9*0.3) = 2
	assert.Equal(t, 8.0, get(P80))  // int(9*0.8) = 7
	assert.Equal(t, 9.0, get(P90))  // int(9*0.9) = 8
	assert.Equal(t, 9.0, get(P99))  // int(9*0.99) = 8
	assert.Equal(t, 5.5, get(Avg))
	assert.Equal(t, 10, s.Count())
}

func TestAvgRounding(t *testing.T) {
	s := NewStatistics([]float64{0.1, 0.1, 0.1})
	v, ok := s.Get(Avg)
	require.True(t, ok)
	assert.Equal(t, 0.1, v)

	s = NewStatistics([]float64{1, 2})
	v, _ = s.Get(Avg)
	assert.Equal(t, 1.5, v)

	s = NewStatistics([]float64{0.111, 0.111, 0.111})
	v, _ = s.Get(Avg)
	assert.Equal(t, 0.11, v)
}

func TestInputNotModified(t *testing.T) {
	samples := []float64{3, 1, 2}
	NewStatistics(samples)
	assert.Equal(t, []float64{3, 1, 2}, samples)
}

func TestJSONRoundTrip(t *testing.T) {
	s := NewStatistics([]float64{0.10, 0.12, 0.11})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Statistics
	require.NoError(t, json.Unmarshal(data, &back))

	for _, p := range Percentiles() {
		want, wantOK := s.Get(p)
		got, gotOK := back.Get(p)
		require.Equal(t, wantOK, gotOK)
		assert.Equal(t, want, got, "%s survives the round trip", p)
	}
}

func TestJSONEmpty(t *testing.T) {
	var s Statistics
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	var back Statistics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Empty())
}
