// =============================================================================
// pkg/storage/storage.go - Durable Entity Store
// =============================================================================
//
// The store persists raw block and transaction observations so that clusters
// too large for in-memory aggregation can be analyzed in bounded memory. All
// writes are enqueued and applied by a single background writer goroutine in
// WriteBatches; readers issue a flush barrier first, which gives them
// read-your-writes visibility over everything enqueued before the read.
//
// Layout (one column family per table):
//
//	block_meta:    <hash>                          -> JSON {txs,size,timestamp,referees}
//	block_latency: <hash> 0x00 <key> 0x00 <seq:8>  -> float64 bits
//	tx_received:   <hash> 0x00 <seq:8>             -> float64 bits
//	tx_packed:     <hash> 0x00 <seq:8>             -> float64 bits
//	tx_ready:      <hash> 0x00 <seq:8>             -> float64 bits
//
// The seq suffix is a process-wide counter that makes every appended sample
// a distinct key; per-entity deletion is a DeleteRange over the hash prefix.
// A batch that fails to apply is dropped and logged, later batches continue.
// A broken DB handle is reopened with the same tuning on next use.
//
// =============================================================================

package storage

import (
	"sync"
	"sync/atomic"

	"github.com/linxGnu/grocksdb"
	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
)

// =============================================================================
// Settings
// =============================================================================

// Settings carries the store tuning knobs.
type Settings struct {
	// Path is the RocksDB directory.
	Path string

	// BatchSize is the maximum number of queued ops applied per WriteBatch.
	BatchSize int

	// CommitThreshold is the number of applied ops after which the WAL is
	// flushed.
	CommitThreshold int

	// SyncWAL syncs every WAL flush to disk. Durable but slow; analysis
	// stores are rebuildable, so the default is off.
	SyncWAL bool

	// BlockCacheMB is the block cache size in MiB.
	BlockCacheMB int

	// WriteBufferMB is the memtable size in MiB.
	WriteBufferMB int
}

// DefaultSettings returns the store tuning used when no config overrides it.
func DefaultSettings(path string) Settings {
	return Settings{
		Path:            path,
		BatchSize:       100,
		CommitThreshold: 10000,
		SyncWAL:         false,
		BlockCacheMB:    256,
		WriteBufferMB:   64,
	}
}

// =============================================================================
// Column families
// =============================================================================

const (
	cfDefault      = "default"
	cfBlockMeta    = "block_meta"
	cfBlockLatency = "block_latency"
	cfTxReceived   = "tx_received"
	cfTxPacked     = "tx_packed"
	cfTxReady      = "tx_ready"
)

var columnFamilies = []string{
	cfDefault,
	cfBlockMeta,
	cfBlockLatency,
	cfTxReceived,
	cfTxPacked,
	cfTxReady,
}

// BlockMeta is the per-block identity row.
type BlockMeta struct {
	Txs       int      `json:"txs"`
	Size      int      `json:"size"`
	Timestamp int64    `json:"timestamp"`
	Referees  []string `json:"referees"`
}

// =============================================================================
// Store
// =============================================================================

// Store is the durable entity store. All exported methods are safe for
// concurrent use.
type Store struct {
	settings Settings
	log      logging.Logger

	// op queue feeding the writer goroutine
	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []op
	stopped bool

	// DB handle; dbmu serializes open/reopen/close against use
	dbmu sync.Mutex
	db   *grocksdb.DB
	cfs  map[string]*grocksdb.ColumnFamilyHandle

	opts *grocksdb.Options
	wo   *grocksdb.WriteOptions
	ro   *grocksdb.ReadOptions

	seq        uint64
	writerDone chan struct{}
}

// Open creates or opens the store at settings.Path and starts the writer
// goroutine.
func Open(settings Settings, log logging.Logger) (*Store, error) {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if settings.CommitThreshold <= 0 {
		settings.CommitThreshold = 10000
	}

	s := &Store{
		settings:   settings,
		log:        log.WithScope("STORE"),
		writerDone: make(chan struct{}),
	}
	s.qcond = sync.NewCond(&s.qmu)

	s.opts = buildOptions(settings)
	s.wo = grocksdb.NewDefaultWriteOptions()
	s.ro = grocksdb.NewDefaultReadOptions()

	if err := s.openDB(); err != nil {
		s.releaseOptions()
		return nil, err
	}

	go s.writerLoop()
	return s, nil
}

func buildOptions(settings Settings) *grocksdb.Options {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)
	opts.SetWriteBufferSize(uint64(settings.WriteBufferMB) * 1024 * 1024)

	bbto := grocksdb.NewDefaultBlockBasedTableOptions()
	bbto.SetBlockCache(grocksdb.NewLRUCache(uint64(settings.BlockCacheMB) * 1024 * 1024))
	opts.SetBlockBasedTableFactory(bbto)

	return opts
}

// openDB opens the DB and column family handles. Caller must not hold dbmu.
func (s *Store) openDB() error {
	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	return s.openDBLocked()
}

func (s *Store) openDBLocked() error {
	if s.db != nil {
		return nil
	}

	cfOpts := make([]*grocksdb.Options, len(columnFamilies))
	for i := range cfOpts {
		cfOpts[i] = s.opts
	}

	db, handles, err := grocksdb.OpenDbColumnFamilies(s.opts, s.settings.Path, columnFamilies, cfOpts)
	if err != nil {
		return errors.Wrapf(err, "failed to open store at %s", s.settings.Path)
	}

	s.db = db
	s.cfs = make(map[string]*grocksdb.ColumnFamilyHandle, len(columnFamilies))
	for i, name := range columnFamilies {
		s.cfs[name] = handles[i]
	}
	return nil
}

// ensureOpenLocked reopens a dropped handle with the original tuning.
// Caller holds dbmu.
func (s *Store) ensureOpenLocked() error {
	if s.db != nil {
		return nil
	}
	s.log.Info("Reopening store at %s", s.settings.Path)
	return s.openDBLocked()
}

func (s *Store) closeDBLocked() {
	for _, h := range s.cfs {
		h.Destroy()
	}
	s.cfs = nil
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

// dropHandle closes the DB handle without stopping the writer. The next
// operation reopens it. Exercised by tests to simulate a broken handle.
func (s *Store) dropHandle() {
	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	s.closeDBLocked()
}

func (s *Store) releaseOptions() {
	if s.wo != nil {
		s.wo.Destroy()
		s.wo = nil
	}
	if s.ro != nil {
		s.ro.Destroy()
		s.ro = nil
	}
	if s.opts != nil {
		s.opts.Destroy()
		s.opts = nil
	}
}

// Close stops the writer goroutine, drains the queue, commits and releases
// the DB handle. The store is unusable afterwards.
func (s *Store) Close() {
	s.qmu.Lock()
	if s.stopped {
		s.qmu.Unlock()
		return
	}
	s.stopped = true
	s.qcond.Broadcast()
	s.qmu.Unlock()

	<-s.writerDone

	s.dbmu.Lock()
	s.closeDBLocked()
	s.dbmu.Unlock()
	s.releaseOptions()
}

func (s *Store) nextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}
