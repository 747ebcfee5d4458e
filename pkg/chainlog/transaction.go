// =============================================================================
// pkg/chainlog/transaction.go - Sampled Transaction Entity
// =============================================================================
//
// Nodes log "Sampled transaction <hash> ..." for a deterministic subset of
// transactions. Each observation carries where the transaction was seen:
// arriving inside a block, entering the ready pool, or being packed into a
// block under construction. Packed and ready-pool timestamps keep a leading
// placeholder slot so that the first known value can be distinguished from
// later duplicates, mirroring the dump format.
//
// =============================================================================

package chainlog

import "strings"

// Transaction is one sampled transaction with the timestamps at which the
// cluster's nodes observed it.
type Transaction struct {
	Hash                string     `json:"hash"`
	ReceivedTimestamps  []float64  `json:"received_timestamps"`
	ByBlock             bool       `json:"by_block"`
	PackedTimestamps    []*float64 `json:"packed_timestamps"`
	ReadyPoolTimestamps []*float64 `json:"ready_pool_timestamps"`
}

// NewTransaction creates a transaction with one received timestamp and
// optional packed / ready-pool observations.
func NewTransaction(hash string, timestamp float64, byBlock bool, packed, readyPool *float64) *Transaction {
	return &Transaction{
		Hash:                hash,
		ReceivedTimestamps:  []float64{timestamp},
		ByBlock:             byBlock,
		PackedTimestamps:    []*float64{packed},
		ReadyPoolTimestamps: []*float64{readyPool},
	}
}

// ParseTransactionReceive parses one sampled-transaction line.
func ParseTransactionReceive(line string) (*Transaction, error) {
	logTimestamp, err := ParseLogTimestamp(line)
	if err != nil {
		return nil, err
	}

	hash, err := ParseField(line, "Sampled transaction ", " ")
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(line, "in block"):
		return NewTransaction(hash, logTimestamp, true, nil, nil), nil
	case strings.Contains(line, "in ready pool"):
		ts := logTimestamp
		return NewTransaction(hash, logTimestamp, false, nil, &ts), nil
	case strings.Contains(line, "in packing block"):
		ts := logTimestamp
		return NewTransaction(hash, logTimestamp, false, &ts, nil), nil
	default:
		return NewTransaction(hash, logTimestamp, false, nil, nil), nil
	}
}

// AddOrMergeTransaction inserts the transaction into the map, or merges it
// into the entity already held under its hash. Used across files and hosts.
func AddOrMergeTransaction(txs map[string]*Transaction, tx *Transaction) {
	if existing, ok := txs[tx.Hash]; ok {
		existing.Merge(tx)
	} else {
		txs[tx.Hash] = tx
	}
}

// AddOrReplaceTransaction folds repeated observations within a single log
// file: the earliest receive wins as the canonical entity, and any known
// packed / ready-pool timestamp is preserved into the winner's placeholder
// slot.
func AddOrReplaceTransaction(txs map[string]*Transaction, tx *Transaction) {
	existing, ok := txs[tx.Hash]
	if !ok {
		txs[tx.Hash] = tx
		return
	}

	if tx.ReceivedTimestamps[0] < existing.ReceivedTimestamps[0] {
		packed := existing.PackedTimestamps[0]
		ready := existing.ReadyPoolTimestamps[0]
		txs[tx.Hash] = tx
		tx.PackedTimestamps[0] = packed
		tx.ReadyPoolTimestamps[0] = ready
		existing = tx
	}

	if tx.PackedTimestamps[0] != nil {
		existing.PackedTimestamps[0] = tx.PackedTimestamps[0]
	}
	if tx.ReadyPoolTimestamps[0] != nil {
		existing.ReadyPoolTimestamps[0] = tx.ReadyPoolTimestamps[0]
	}
}

// Merge folds another host's observation of the same transaction into this
// one. Received timestamps concatenate. Packed and ready-pool timestamps
// fill the placeholder slot first, then concatenate.
func (t *Transaction) Merge(tx *Transaction) {
	t.ReceivedTimestamps = append(t.ReceivedTimestamps, tx.ReceivedTimestamps...)

	if tx.PackedTimestamps[0] != nil {
		if t.PackedTimestamps[0] == nil {
			t.PackedTimestamps[0] = tx.PackedTimestamps[0]
		} else {
			t.PackedTimestamps = append(t.PackedTimestamps, tx.PackedTimestamps...)
		}
	}

	if tx.ReadyPoolTimestamps[0] != nil {
		if t.ReadyPoolTimestamps[0] == nil {
			t.ReadyPoolTimestamps[0] = tx.ReadyPoolTimestamps[0]
		} else {
			t.ReadyPoolTimestamps = append(t.ReadyPoolTimestamps, tx.ReadyPoolTimestamps...)
		}
	}
}

// GetLatencies returns each received timestamp relative to the earliest one.
func (t *Transaction) GetLatencies() []float64 {
	min := minFloat(t.ReceivedTimestamps)
	latencies := make([]float64, 0, len(t.ReceivedTimestamps))
	for _, ts := range t.ReceivedTimestamps {
		latencies = append(latencies, ts-min)
	}
	return latencies
}

// GetPackedToBlockLatencies returns each known packed timestamp relative to
// the earliest receive.
func (t *Transaction) GetPackedToBlockLatencies() []float64 {
	min := minFloat(t.ReceivedTimestamps)
	latencies := []float64{}
	for _, ts := range t.PackedTimestamps {
		if ts != nil {
			latencies = append(latencies, *ts-min)
		}
	}
	return latencies
}

// MinPackedToBlockLatency returns the earliest packed timestamp relative to
// the earliest receive. ok is false when no packed timestamp is known.
func (t *Transaction) MinPackedToBlockLatency() (float64, bool) {
	return t.minRelative(t.PackedTimestamps)
}

// MinReadyPoolLatency returns the earliest ready-pool timestamp relative to
// the earliest receive. ok is false when no ready-pool timestamp is known.
func (t *Transaction) MinReadyPoolLatency() (float64, bool) {
	return t.minRelative(t.ReadyPoolTimestamps)
}

func (t *Transaction) minRelative(timestamps []*float64) (float64, bool) {
	found := false
	var min float64
	for _, ts := range timestamps {
		if ts == nil {
			continue
		}
		if !found || *ts < min {
			min = *ts
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return min - minFloat(t.ReceivedTimestamps), true
}

// LatencyCount returns the number of hosts that observed this transaction.
func (t *Transaction) LatencyCount() int {
	return len(t.ReceivedTimestamps)
}

// Packed reports whether any packed timestamp is known.
func (t *Transaction) Packed() bool {
	return t.PackedTimestamps[0] != nil
}

// WaitToBePacked returns the gap between the first known packed timestamp
// and the earliest receive. ok is false for unpacked transactions.
func (t *Transaction) WaitToBePacked() (float64, bool) {
	if t.PackedTimestamps[0] == nil {
		return 0, false
	}
	return *t.PackedTimestamps[0] - minFloat(t.ReceivedTimestamps), true
}

func minFloat(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
