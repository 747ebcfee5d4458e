package chainlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHash   = "0x0102030405060708091011121314151617181920212223242526272829303132"
	testParent = "0x1112131415161718192021222324252627282930313233343536373839404142"
	testRef    = "0x2122232425262728293031323334353637383940414243444546474849505152"
)

func receiveLine(ts string, txCount, blockSize int) string {
	return fmt.Sprintf(
		"%s INFO new block received, header_only = false: Block { block_header: BlockHeader { parent_hash: %s, height: 12, timestamp: 1584192900, hash: Some(%s), referee_hashes: [%s] } } tx_count=%d, block_size=%d",
		ts, testParent, testHash, testRef, txCount, blockSize)
}

func consLine(ts string) string {
	return fmt.Sprintf(
		"%s INFO insert new block into consensus: Block { parent_hash: %s, height: 12, timestamp: 1584192900, hash: Some(%s), referee_hashes: [] }",
		ts, testParent, testHash)
}

func TestParseField(t *testing.T) {
	line := "a=1, b=2, c=3"

	v, err := ParseField(line, "b=", ",")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	v, err = ParseField(line, "c=", "")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	v, err = ParseField(line, "", "=")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = ParseField(line, "d=", ",")
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParseLogTimestamp(t *testing.T) {
	ts, err := ParseLogTimestamp("2020-03-14T13:35:29.320+00:00 INFO something")
	require.NoError(t, err)

	want := float64(time.Date(2020, 3, 14, 13, 35, 29, 320_000_000, time.UTC).UnixNano()) / 1e9
	assert.InDelta(t, want, ts, 1e-9)

	// path-prefixed lines (grep-style concatenation)
	ts2, err := ParseLogTimestamp("/data/node0/conflux.log:2020-03-14T13:35:29.320+00:00 INFO something")
	require.NoError(t, err)
	assert.Equal(t, ts, ts2)

	_, err = ParseLogTimestamp("not-a-timestamp INFO something")
	require.Error(t, err)
}

func TestParseBlockReceive(t *testing.T) {
	line := receiveLine("2020-03-14T13:35:02.500+00:00", 42, 12345)

	b, err := ParseBlockReceive(line, Receive)
	require.NoError(t, err)

	assert.Equal(t, testHash, b.Hash)
	assert.Equal(t, testParent, b.Parent)
	assert.Equal(t, int64(1584192900), b.Timestamp)
	assert.Equal(t, uint64(12), b.Height)
	assert.Equal(t, []string{testRef}, b.Referees)
	assert.Equal(t, 42, b.Txs)
	assert.Equal(t, 12345, b.Size)

	// 13:35:02.5 UTC = 1584192902.5; declared timestamp 1584192900
	assert.Equal(t, []float64{2.5}, b.GetLatencies(Receive.Name()))
	assert.Empty(t, b.GetLatencies(Sync.Name()))
}

func TestParseBlockReceiveConsHasNoSize(t *testing.T) {
	b, err := ParseBlockReceive(consLine("2020-03-14T13:35:03.000+00:00"), Cons)
	require.NoError(t, err)

	assert.Equal(t, 0, b.Txs)
	assert.Equal(t, 0, b.Size)
	assert.Equal(t, []float64{3}, b.GetLatencies(Cons.Name()))
}

func TestParseBlockReceiveBadHash(t *testing.T) {
	line := "2020-03-14T13:35:02.500+00:00 INFO new block received parent_hash: 0xabc, height: 1, timestamp: 1584192900, hash: Some(0xdead), referee_hashes: [] tx_count=1, block_size=2"
	_, err := ParseBlockReceive(line, Receive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash length")
}

func TestBlockMergeDifferentHashIsNoop(t *testing.T) {
	a := NewBlock(testHash, testParent, 100, 1, nil)
	a.Latencies[Receive.Name()] = []float64{1}
	b := NewBlock(testParent, testParent, 100, 1, nil)
	b.Latencies[Receive.Name()] = []float64{2}

	a.Merge(b)
	assert.Equal(t, []float64{1}, a.GetLatencies(Receive.Name()))
}

func TestBlockMergeExtendsAndBackfillsSize(t *testing.T) {
	a := NewBlock(testHash, testParent, 100, 1, nil)
	a.Latencies[Sync.Name()] = []float64{1.5}
	a.Latencies["Custom0"] = []float64{0.1}

	b := NewBlock(testHash, testParent, 100, 1, nil)
	b.Size = 777
	b.Latencies[Sync.Name()] = []float64{2.5}
	b.Latencies["Custom0"] = []float64{0.2}
	b.Latencies["Custom1"] = []float64{0.3}

	a.Merge(b)

	assert.Equal(t, 777, a.Size)
	assert.Equal(t, []float64{1.5, 2.5}, a.GetLatencies(Sync.Name()))
	assert.Equal(t, []float64{0.1, 0.2}, a.GetLatencies("Custom0"))
	assert.Equal(t, []float64{0.3}, a.GetLatencies("Custom1"))
	assert.Equal(t, 2, a.LatencyCount(Sync))
}

func TestAddOrMergeBlock(t *testing.T) {
	blocks := make(map[string]*Block)

	b1 := NewBlock(testHash, testParent, 100, 1, nil)
	b1.Latencies[Receive.Name()] = []float64{1}
	AddOrMergeBlock(blocks, b1)

	b2 := NewBlock(testHash, testParent, 100, 1, nil)
	b2.Latencies[Receive.Name()] = []float64{2}
	AddOrMergeBlock(blocks, b2)

	require.Len(t, blocks, 1)
	assert.Equal(t, []float64{1, 2}, blocks[testHash].GetLatencies(Receive.Name()))
}

func TestParseBlockEventRecord(t *testing.T) {
	line := "2020-03-14T13:35:02.500+00:00 INFO Block events record complete. hash: " + testHash +
		", start_timestamp: 1584192900000, header_ready: 1000000, body_ready: 3000000, sync_graph: 6000000" +
		", consensys_graph_insert: 10000000, consensys_graph_ready: 15000000"

	rec, err := ParseBlockEventRecord(line)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, testHash, rec.Hash)
	assert.Equal(t, 1.0, rec.Stages[HeaderReady])
	assert.Equal(t, 2.0, rec.Stages[BodyReady])
	assert.Equal(t, 3.0, rec.Stages[SyncGraph])
	assert.Equal(t, 4.0, rec.Stages[ConsensusGraphStart])
	assert.Equal(t, 5.0, rec.Stages[ConsensusGraphReady])

	_, ok := rec.Stages[ComputeEpoch]
	assert.False(t, ok, "pivot stages absent when not reported")
}

func TestParseBlockEventRecordPivotStages(t *testing.T) {
	line := "x Block events record partially complete. hash: " + testHash +
		", header_ready: 0, body_ready: 0, sync_graph: 0, consensys_graph_insert: 0, consensys_graph_ready: 1000000" +
		", compute_epoch: 2000000, notify_tx_pool: 2500000, tx_pool_updated: 4500000"

	rec, err := ParseBlockEventRecord(line)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 1.0, rec.Stages[ComputeEpoch])
	assert.Equal(t, 0.5, rec.Stages[NotifyTxPool])
	assert.Equal(t, 2.0, rec.Stages[TxPoolUpdated])
}

func TestParseBlockEventRecordCustomKeys(t *testing.T) {
	line := "x Block events record complete. hash: " + testHash +
		", header_ready: 0, body_ready: 0, sync_graph: 0, consensys_graph_insert: 0, consensys_graph_ready: 0" +
		", custom_exec_time_0: 1000000, custom_exec_time_1: 3000000, custom_exec_time_2: 3500000" +
		", custom_gapped_0: 1, custom_gapped_2: 2" +
		", gauge_queue_len: 42"

	rec, err := ParseBlockEventRecord(line)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 2.0, rec.Custom["ExecTime0"])
	assert.Equal(t, 0.5, rec.Custom["ExecTime1"])
	assert.Equal(t, 42.0, rec.Custom["QueueLen"])

	// stage sequences stop at the first gap
	_, ok := rec.Custom["Gapped0"]
	assert.False(t, ok)
	_, ok = rec.Custom["Gapped1"]
	assert.False(t, ok)
}

func TestParseBlockEventRecordMissingStage(t *testing.T) {
	line := "x Block events record complete. hash: " + testHash +
		", header_ready: 0, body_ready: 0"
	_, err := ParseBlockEventRecord(line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_graph")
}

func TestParseBlockEventRecordNonMatching(t *testing.T) {
	rec, err := ParseBlockEventRecord("plain line without a record")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSetBlockEventRecord(t *testing.T) {
	b := NewBlock(testHash, testParent, 100, 1, nil)
	rec := &BlockEventRecord{
		Hash:   testHash,
		Stages: map[BlockEventType]float64{HeaderReady: 0.5},
		Custom: map[string]float64{"ExecTime0": 1.25},
	}
	b.SetBlockEventRecord(rec)

	assert.Equal(t, []float64{0.5}, b.GetLatencies(HeaderReady.Name()))
	assert.Equal(t, []float64{1.25}, b.GetLatencies("ExecTime0"))

	other := &BlockEventRecord{Hash: testParent, Stages: map[BlockEventType]float64{HeaderReady: 9}}
	b.SetBlockEventRecord(other)
	assert.Equal(t, []float64{0.5}, b.GetLatencies(HeaderReady.Name()), "foreign record ignored")
}

func TestNonDefaultLatencies(t *testing.T) {
	b := NewBlock(testHash, testParent, 100, 1, nil)
	b.Latencies["ExecTime0"] = []float64{1}
	b.Latencies[Receive.Name()] = []float64{2}

	custom := b.NonDefaultLatencies()
	require.Len(t, custom, 1)
	assert.Equal(t, []float64{1}, custom["ExecTime0"])
}

func TestCustomEventKeyParsing(t *testing.T) {
	k, ok := ParseCustomEventKey("custom_exec_time_3")
	require.True(t, ok)
	assert.Equal(t, "ExecTime", k.TypeName)
	assert.Equal(t, 3, k.Stage)
	assert.Equal(t, "ExecTime3", k.Name())

	k, ok = ParseCustomEventKey("gauge_queue_len")
	require.True(t, ok)
	assert.Equal(t, -1, k.Stage)
	assert.Equal(t, "QueueLen", k.Name())

	_, ok = ParseCustomEventKey("header_ready")
	assert.False(t, ok)
}

func txLine(ts, hash, where string) string {
	return fmt.Sprintf("%s INFO Sampled transaction %s %s", ts, hash, where)
}

func TestParseTransactionReceive(t *testing.T) {
	hash := "0xaa"

	tx, err := ParseTransactionReceive(txLine("2020-03-14T13:35:02.500+00:00", hash, "in block"))
	require.NoError(t, err)
	assert.True(t, tx.ByBlock)
	assert.Nil(t, tx.PackedTimestamps[0])
	assert.Nil(t, tx.ReadyPoolTimestamps[0])

	tx, err = ParseTransactionReceive(txLine("2020-03-14T13:35:02.500+00:00", hash, "in ready pool"))
	require.NoError(t, err)
	assert.False(t, tx.ByBlock)
	require.NotNil(t, tx.ReadyPoolTimestamps[0])
	assert.Equal(t, tx.ReceivedTimestamps[0], *tx.ReadyPoolTimestamps[0])

	tx, err = ParseTransactionReceive(txLine("2020-03-14T13:35:02.500+00:00", hash, "in packing block"))
	require.NoError(t, err)
	require.NotNil(t, tx.PackedTimestamps[0])
	assert.Equal(t, tx.ReceivedTimestamps[0], *tx.PackedTimestamps[0])
}

func floatPtr(v float64) *float64 { return &v }

func TestTransactionMergePackedConservation(t *testing.T) {
	a := NewTransaction("0xaa", 10, false, nil, nil)
	b := NewTransaction("0xaa", 11, false, floatPtr(12), nil)
	c := NewTransaction("0xaa", 9, false, floatPtr(13), nil)

	a.Merge(b)
	require.NotNil(t, a.PackedTimestamps[0])
	assert.Equal(t, 12.0, *a.PackedTimestamps[0], "placeholder filled by first known packed time")

	a.Merge(c)
	assert.Len(t, a.PackedTimestamps, 2, "later packed times concatenate")
	assert.Equal(t, []float64{10, 11, 9}, a.ReceivedTimestamps)
}

func TestTransactionAddOrReplaceKeepsEarliestReceive(t *testing.T) {
	txs := make(map[string]*Transaction)

	AddOrReplaceTransaction(txs, NewTransaction("0xaa", 10, false, floatPtr(15), nil))
	AddOrReplaceTransaction(txs, NewTransaction("0xaa", 8, false, nil, floatPtr(9)))

	tx := txs["0xaa"]
	assert.Equal(t, []float64{8}, tx.ReceivedTimestamps)
	require.NotNil(t, tx.PackedTimestamps[0])
	assert.Equal(t, 15.0, *tx.PackedTimestamps[0], "known packed time survives replacement")
	require.NotNil(t, tx.ReadyPoolTimestamps[0])
	assert.Equal(t, 9.0, *tx.ReadyPoolTimestamps[0])

	// later observation never displaces an earlier receive
	AddOrReplaceTransaction(txs, NewTransaction("0xaa", 20, false, nil, nil))
	assert.Equal(t, []float64{8}, txs["0xaa"].ReceivedTimestamps)
}

func TestTransactionLatencies(t *testing.T) {
	tx := NewTransaction("0xaa", 10, false, nil, nil)
	tx.Merge(NewTransaction("0xaa", 12, false, floatPtr(14), nil))
	tx.Merge(NewTransaction("0xaa", 11, false, floatPtr(16), floatPtr(13)))

	assert.Equal(t, []float64{0, 2, 1}, tx.GetLatencies())
	assert.Equal(t, []float64{4, 6}, tx.GetPackedToBlockLatencies())

	min, ok := tx.MinPackedToBlockLatency()
	require.True(t, ok)
	assert.Equal(t, 4.0, min)

	ready, ok := tx.MinReadyPoolLatency()
	require.True(t, ok)
	assert.Equal(t, 3.0, ready)

	wait, ok := tx.WaitToBePacked()
	require.True(t, ok)
	assert.Equal(t, 4.0, wait)

	assert.Equal(t, 3, tx.LatencyCount())
	assert.True(t, tx.Packed())
}

func TestTransactionNoPacked(t *testing.T) {
	tx := NewTransaction("0xaa", 10, false, nil, nil)

	_, ok := tx.MinPackedToBlockLatency()
	assert.False(t, ok)
	_, ok = tx.MinReadyPoolLatency()
	assert.False(t, ok)
	_, ok = tx.WaitToBePacked()
	assert.False(t, ok)
	assert.False(t, tx.Packed())
}
