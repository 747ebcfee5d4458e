// =============================================================================
// pkg/storage/reader.go - Read Path and Hash Iterators
// =============================================================================
//
// Every read begins with a flush barrier, so a reader always observes the
// writes it (or anything before it) enqueued. Hash iterators stream lazily:
// a store built from a large cluster holds far more transaction hashes than
// fit in memory. Rows deleted while an iterator is open do not disturb it;
// RocksDB iterators read from a consistent snapshot.
//
// =============================================================================

package storage

import (
	"bytes"
	"encoding/json"

	"github.com/linxGnu/grocksdb"
	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
)

// GetBlockMeta returns the identity row of a block. ok is false when the
// block is unknown.
func (s *Store) GetBlockMeta(hash string) (*BlockMeta, bool, error) {
	s.Flush()

	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return nil, false, err
	}

	slice, err := s.db.GetCF(s.ro, s.cfs[cfBlockMeta], []byte(hash))
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read block meta %s", hash)
	}
	defer slice.Free()

	if !slice.Exists() {
		return nil, false, nil
	}

	meta := &BlockMeta{}
	if err := json.Unmarshal(slice.Data(), meta); err != nil {
		return nil, false, errors.Wrapf(err, "corrupt block meta %s", hash)
	}
	return meta, true, nil
}

// GetBlockLatencies returns every latency sample of a block, grouped by
// latency key.
func (s *Store) GetBlockLatencies(hash string) (map[string][]float64, error) {
	s.Flush()

	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}

	prefix := append([]byte(hash), 0)
	latencies := make(map[string][]float64)

	it := s.db.NewIteratorCF(s.ro, s.cfs[cfBlockLatency])
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Key()
		value := it.Value()

		// key layout: hash 0x00 <latency key> 0x00 <seq:8>
		rest := key.Data()[len(prefix):]
		sep := bytes.IndexByte(rest, 0)
		if sep >= 0 {
			latKey := string(rest[:sep])
			latencies[latKey] = append(latencies[latKey], helpers.BytesToFloat64(value.Data()))
		}

		key.Free()
		value.Free()
	}

	if err := it.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan latencies of %s", hash)
	}
	return latencies, nil
}

// GetTxReceived returns the received timestamp series of a transaction.
func (s *Store) GetTxReceived(hash string) ([]float64, error) {
	return s.getTxSeries(cfTxReceived, hash)
}

// GetTxPacked returns the packed timestamp series of a transaction.
func (s *Store) GetTxPacked(hash string) ([]float64, error) {
	return s.getTxSeries(cfTxPacked, hash)
}

// GetTxReady returns the ready-pool timestamp series of a transaction.
func (s *Store) GetTxReady(hash string) ([]float64, error) {
	return s.getTxSeries(cfTxReady, hash)
}

func (s *Store) getTxSeries(cf, hash string) ([]float64, error) {
	s.Flush()

	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}

	prefix := append([]byte(hash), 0)
	series := []float64{}

	it := s.db.NewIteratorCF(s.ro, s.cfs[cf])
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		value := it.Value()
		series = append(series, helpers.BytesToFloat64(value.Data()))
		value.Free()
	}

	if err := it.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s series of %s", cf, hash)
	}
	return series, nil
}

// =============================================================================
// Block hash iterator
// =============================================================================

// BlockHashIterator streams the hashes of all stored blocks in key order.
type BlockHashIterator struct {
	it *grocksdb.Iterator
}

// BlockHashes returns an iterator over all stored block hashes. The caller
// must Close it.
func (s *Store) BlockHashes() (*BlockHashIterator, error) {
	s.Flush()

	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}

	it := s.db.NewIteratorCF(s.ro, s.cfs[cfBlockMeta])
	it.SeekToFirst()
	return &BlockHashIterator{it: it}, nil
}

// Next returns the next block hash; ok is false when exhausted.
func (i *BlockHashIterator) Next() (string, bool) {
	if !i.it.Valid() {
		return "", false
	}
	key := i.it.Key()
	hash := string(key.Data())
	key.Free()
	i.it.Next()
	return hash, true
}

// Err returns the first iteration error, if any.
func (i *BlockHashIterator) Err() error {
	return i.it.Err()
}

// Close releases the iterator.
func (i *BlockHashIterator) Close() {
	i.it.Close()
}

// =============================================================================
// Transaction hash iterator
// =============================================================================

// TxHashIterator streams the distinct hashes present in any of the three
// transaction column families, in key order, via a lazy three-way merge.
type TxHashIterator struct {
	iters []*grocksdb.Iterator
}

// TxHashes returns an iterator over all stored transaction hashes. The
// caller must Close it.
func (s *Store) TxHashes() (*TxHashIterator, error) {
	s.Flush()

	s.dbmu.Lock()
	defer s.dbmu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return nil, err
	}

	iters := make([]*grocksdb.Iterator, 0, 3)
	for _, cf := range []string{cfTxReceived, cfTxPacked, cfTxReady} {
		it := s.db.NewIteratorCF(s.ro, s.cfs[cf])
		it.SeekToFirst()
		iters = append(iters, it)
	}
	return &TxHashIterator{iters: iters}, nil
}

// Next returns the smallest unvisited hash across the three families;
// ok is false when all are exhausted.
func (i *TxHashIterator) Next() (string, bool) {
	min := ""
	for _, it := range i.iters {
		if !it.Valid() {
			continue
		}
		hash := currentHash(it)
		if min == "" || hash < min {
			min = hash
		}
	}
	if min == "" {
		return "", false
	}

	// skip every family past the returned hash
	past := append([]byte(min), 1)
	for _, it := range i.iters {
		if it.Valid() && currentHash(it) == min {
			it.Seek(past)
		}
	}
	return min, true
}

// Err returns the first iteration error across the merged families.
func (i *TxHashIterator) Err() error {
	for _, it := range i.iters {
		if err := it.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the merged iterators.
func (i *TxHashIterator) Close() {
	for _, it := range i.iters {
		it.Close()
	}
}

// currentHash extracts the hash prefix of the iterator's current key.
func currentHash(it *grocksdb.Iterator) string {
	key := it.Key()
	defer key.Free()

	data := key.Data()
	if sep := bytes.IndexByte(data, 0); sep >= 0 {
		return string(data[:sep])
	}
	return string(data)
}
