// =============================================================================
// pkg/storage/writer.go - Op Queue and Background Writer
// =============================================================================
//
// Writes never touch RocksDB on the caller's goroutine: they append an op to
// an unbounded queue and return. The single writer goroutine drains the
// queue in batches of Settings.BatchSize, applies each batch as one
// WriteBatch, and flushes the WAL every CommitThreshold applied ops.
//
// A flush barrier is an op like any other: because the queue is FIFO and
// there is one writer, the barrier completing means every previously
// enqueued op has been applied.
//
// =============================================================================

package storage

import (
	"encoding/json"

	"github.com/linxGnu/grocksdb"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
)

type opKind int

const (
	opBlockMeta opKind = iota
	opBlockLatency
	opTxReceived
	opTxPacked
	opTxReady
	opDeleteBlock
	opDeleteTx
	opFlush
)

type op struct {
	kind  opKind
	hash  string
	key   string  // latency key, opBlockLatency only
	value float64 // sample value
	meta  *BlockMeta
	done  chan struct{} // opFlush only
}

// =============================================================================
// Write API (enqueue only)
// =============================================================================

// AddBlockMeta enqueues the identity row of a block. The first write for a
// hash wins; repeats are ignored at apply time.
func (s *Store) AddBlockMeta(hash string, meta *BlockMeta) {
	s.enqueue(op{kind: opBlockMeta, hash: hash, meta: meta})
}

// AddBlockLatency enqueues one latency sample of a block under the given
// latency key.
func (s *Store) AddBlockLatency(hash, key string, value float64) {
	s.enqueue(op{kind: opBlockLatency, hash: hash, key: key, value: value})
}

// AddTxReceived enqueues one received timestamp of a transaction.
func (s *Store) AddTxReceived(hash string, ts float64) {
	s.enqueue(op{kind: opTxReceived, hash: hash, value: ts})
}

// AddTxPacked enqueues one packed timestamp of a transaction.
func (s *Store) AddTxPacked(hash string, ts float64) {
	s.enqueue(op{kind: opTxPacked, hash: hash, value: ts})
}

// AddTxReady enqueues one ready-pool timestamp of a transaction.
func (s *Store) AddTxReady(hash string, ts float64) {
	s.enqueue(op{kind: opTxReady, hash: hash, value: ts})
}

// DeleteBlock enqueues deletion of all rows of a block.
func (s *Store) DeleteBlock(hash string) {
	s.enqueue(op{kind: opDeleteBlock, hash: hash})
}

// DeleteTx enqueues deletion of all rows of a transaction.
func (s *Store) DeleteTx(hash string) {
	s.enqueue(op{kind: opDeleteTx, hash: hash})
}

// Flush blocks until every previously enqueued op has been applied and the
// WAL flushed. Reads call this first to observe their own writes.
func (s *Store) Flush() {
	done := make(chan struct{})
	if !s.enqueue(op{kind: opFlush, done: done}) {
		return
	}
	<-done
}

func (s *Store) enqueue(o op) bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if s.stopped {
		s.log.Error("Dropping %d op enqueued after Close", o.kind)
		return false
	}
	s.queue = append(s.queue, o)
	s.qcond.Signal()
	return true
}

// dequeue takes up to BatchSize ops, blocking while the queue is empty and
// the store is running. done is true once the store is stopped and the
// queue fully drained.
func (s *Store) dequeue() (ops []op, done bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	for len(s.queue) == 0 && !s.stopped {
		s.qcond.Wait()
	}

	if len(s.queue) == 0 {
		return nil, true
	}

	n := s.settings.BatchSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	ops = s.queue[:n]
	s.queue = s.queue[n:]
	return ops, false
}

// =============================================================================
// Writer goroutine
// =============================================================================

func (s *Store) writerLoop() {
	defer close(s.writerDone)

	sinceCommit := 0
	for {
		ops, done := s.dequeue()
		if done {
			s.commit()
			return
		}

		sinceCommit += s.applyOps(ops)
		if sinceCommit >= s.settings.CommitThreshold {
			s.commit()
			sinceCommit = 0
		}
	}
}

// applyOps applies one dequeued slice. Flush barriers split the slice:
// everything ahead of the barrier is written and committed before the
// barrier is signalled. Returns the number of ops applied.
func (s *Store) applyOps(ops []op) int {
	applied := 0
	pending := make([]op, 0, len(ops))

	for _, o := range ops {
		if o.kind != opFlush {
			pending = append(pending, o)
			continue
		}
		applied += s.applyBatch(pending)
		pending = pending[:0]
		s.commit()
		close(o.done)
	}
	applied += s.applyBatch(pending)
	return applied
}

// applyBatch writes one WriteBatch. On failure the batch is dropped with a
// diagnostic; one malformed batch must not wedge the whole run.
func (s *Store) applyBatch(ops []op) int {
	if len(ops) == 0 {
		return 0
	}

	s.dbmu.Lock()
	defer s.dbmu.Unlock()

	if err := s.ensureOpenLocked(); err != nil {
		s.log.Error("Dropping batch of %d ops: %v", len(ops), err)
		return 0
	}

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()

	metaSeen := make(map[string]bool)
	for _, o := range ops {
		switch o.kind {
		case opBlockMeta:
			if metaSeen[o.hash] || s.blockMetaExistsLocked(o.hash) {
				continue
			}
			metaSeen[o.hash] = true
			data, err := json.Marshal(o.meta)
			if err != nil {
				s.log.Error("Dropping block meta %s: %v", o.hash, err)
				continue
			}
			batch.PutCF(s.cfs[cfBlockMeta], []byte(o.hash), data)

		case opBlockLatency:
			batch.PutCF(s.cfs[cfBlockLatency], latencyKey(o.hash, o.key, s.nextSeq()), helpers.Float64ToBytes(o.value))

		case opTxReceived:
			batch.PutCF(s.cfs[cfTxReceived], seriesKey(o.hash, s.nextSeq()), helpers.Float64ToBytes(o.value))

		case opTxPacked:
			batch.PutCF(s.cfs[cfTxPacked], seriesKey(o.hash, s.nextSeq()), helpers.Float64ToBytes(o.value))

		case opTxReady:
			batch.PutCF(s.cfs[cfTxReady], seriesKey(o.hash, s.nextSeq()), helpers.Float64ToBytes(o.value))

		case opDeleteBlock:
			start, end := hashRange(o.hash)
			batch.DeleteCF(s.cfs[cfBlockMeta], []byte(o.hash))
			batch.DeleteRangeCF(s.cfs[cfBlockLatency], start, end)

		case opDeleteTx:
			start, end := hashRange(o.hash)
			batch.DeleteRangeCF(s.cfs[cfTxReceived], start, end)
			batch.DeleteRangeCF(s.cfs[cfTxPacked], start, end)
			batch.DeleteRangeCF(s.cfs[cfTxReady], start, end)
		}
	}

	if err := s.db.Write(s.wo, batch); err != nil {
		s.log.Error("Dropping batch of %d ops: %v", len(ops), err)
		return 0
	}
	return len(ops)
}

func (s *Store) blockMetaExistsLocked(hash string) bool {
	slice, err := s.db.GetCF(s.ro, s.cfs[cfBlockMeta], []byte(hash))
	if err != nil {
		return false
	}
	defer slice.Free()
	return slice.Exists()
}

// commit flushes the WAL, making everything applied so far recoverable.
func (s *Store) commit() {
	s.dbmu.Lock()
	defer s.dbmu.Unlock()

	if s.db == nil {
		return
	}
	if err := s.db.FlushWAL(s.settings.SyncWAL); err != nil {
		s.log.Error("WAL flush failed: %v", err)
	}
}

// =============================================================================
// Key layout helpers
// =============================================================================

func latencyKey(hash, key string, seq uint64) []byte {
	k := make([]byte, 0, len(hash)+len(key)+10)
	k = append(k, hash...)
	k = append(k, 0)
	k = append(k, key...)
	k = append(k, 0)
	return append(k, helpers.Uint64ToBytes(seq)...)
}

func seriesKey(hash string, seq uint64) []byte {
	k := make([]byte, 0, len(hash)+9)
	k = append(k, hash...)
	k = append(k, 0)
	return append(k, helpers.Uint64ToBytes(seq)...)
}

// hashRange bounds every key of one entity: [hash 0x00, hash 0x01).
func hashRange(hash string) (start, end []byte) {
	start = append([]byte(hash), 0)
	end = append([]byte(hash), 1)
	return
}
