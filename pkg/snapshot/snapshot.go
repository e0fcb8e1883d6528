// Package snapshot persists a structured copy of the ledger to LevelDB at
// shutdown, alongside the required human-readable text dump. The snapshot
// is written once and never read back at boot -- in-flight state does not
// survive restarts -- it exists as a machine-readable artifact for
// offline inspection.
package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/pouria-shahmiri/greychain/pkg/codec"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// Key layout: "b:" + big-endian round for blocks (big-endian so LevelDB's
// lexicographic iteration order is round order), "m:" + name for metadata.
var (
	blockPrefix = []byte("b:")
	metaLength  = []byte("m:length")
	metaCurHash = []byte("m:cur_hash")
)

// Store wraps a LevelDB database holding one ledger snapshot.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the snapshot database at path.
func Open(path string) (*Store, error) {
	opts := &opt.Options{
		Compression: opt.SnappyCompression,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteLedger replaces the stored snapshot with blocks, atomically: the
// old snapshot's entries are deleted and the new ones written in one
// batch.
func (s *Store) WriteLedger(blocks []types.Block, curHash uint64) error {
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		batch.Delete(k)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan old snapshot: %w", err)
	}

	for _, b := range blocks {
		buf := make([]byte, blockEncodedSize(b))
		n := codec.WriteBlock(buf, b)
		batch.Put(blockKey(b.Round), buf[:n])
	}

	var lenBuf, hashBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(blocks)))
	binary.LittleEndian.PutUint64(hashBuf[:], curHash)
	batch.Put(metaLength, lenBuf[:])
	batch.Put(metaCurHash, hashBuf[:])

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write snapshot batch: %w", err)
	}
	return nil
}

// ReadLedger loads the stored snapshot in round order. Used only by
// offline tooling and tests; the node never calls this at boot.
func (s *Store) ReadLedger() ([]types.Block, uint64, error) {
	var blocks []types.Block

	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		_, b := codec.ReadBlock(iter.Value())
		blocks = append(blocks, b)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, 0, fmt.Errorf("scan snapshot: %w", err)
	}

	var curHash uint64
	if raw, err := s.db.Get(metaCurHash, nil); err == nil {
		curHash = binary.LittleEndian.Uint64(raw)
	} else if err != leveldb.ErrNotFound {
		return nil, 0, fmt.Errorf("read snapshot meta: %w", err)
	}

	return blocks, curHash, nil
}

func blockKey(round uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], round)
	return key
}

// blockEncodedSize is the exact encoded size of b: eight fixed 8-byte
// fields (prev hash, round, timestamp, tx id, amount, nonce, solution,
// hash) plus the transaction's two length-prefixed PEM strings.
func blockEncodedSize(b types.Block) int {
	return 8*8 + 2*codec.LengthPrefixSize + len(b.Tx.Payer) + len(b.Tx.Payee)
}
