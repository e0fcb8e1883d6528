package types

import "github.com/pouria-shahmiri/greychain/pkg/mhash"

// Block is one entry in the ledger: a mined transaction linked to its
// predecessor by hash.
type Block struct {
	PrevHash  uint64
	Round     uint64
	Timestamp uint64 // microseconds since Unix epoch at creation
	Tx        Transaction
	Nonce     uint64 // deterministic puzzle seed, set at creation
	Solution  uint64 // set by the miner once a valid solution is found
	Hash      uint64 // set once Solution is known
}

// NewUnsolvedBlock builds a block with its Nonce computed but Solution and
// Hash left zero -- the shape the miner enqueues and later completes.
func NewUnsolvedBlock(tx Transaction, prevHash uint64, round uint64, timestampMicros uint64) Block {
	b := Block{
		PrevHash:  prevHash,
		Round:     round,
		Timestamp: timestampMicros,
		Tx:        tx,
	}
	b.Nonce = b.genNonce()
	return b
}

// genNonce derives the puzzle seed from the pre-mining fields:
// (prev_hash, round, timestamp, tx).
func (b Block) genNonce() uint64 {
	return mhash.New().
		WriteUint64(b.PrevHash).
		WriteUint64(b.Round).
		WriteUint64(b.Timestamp).
		WriteUint64(b.Tx.ID).
		WriteFloat64(b.Tx.Amount).
		WriteString(b.Tx.Payer).
		WriteString(b.Tx.Payee).
		Sum64()
}

// Complete stamps the mined solution and recomputes the final block hash.
// Returns a new Block value; callers hold the ledger lock when mutating a
// block already present in the ledger.
func (b Block) Complete(solution uint64) Block {
	b.Solution = solution
	b.Hash = b.computeHash()
	return b
}

// computeHash is the deterministic hash of every field preceding it,
// including Nonce and Solution -- the chain-link value.
func (b Block) computeHash() uint64 {
	return mhash.New().
		WriteUint64(b.PrevHash).
		WriteUint64(b.Round).
		WriteUint64(b.Timestamp).
		WriteUint64(b.Tx.ID).
		WriteFloat64(b.Tx.Amount).
		WriteString(b.Tx.Payer).
		WriteString(b.Tx.Payee).
		WriteUint64(b.Nonce).
		WriteUint64(b.Solution).
		Sum64()
}

// MiningHash is H_m(nonce, solution): the competitive ordering key among
// blocks contending for the same round. Smaller wins.
func (b Block) MiningHash() uint64 {
	return mhash.New().WriteUint64(b.Nonce).WriteUint64(b.Solution).Sum64()
}

// Less reports whether b beats other by mining hash -- the ordering
// calls "smaller wins".
func (b Block) Less(other Block) bool {
	return b.MiningHash() < other.MiningHash()
}

// Rehash recomputes Hash after PrevHash changes, used by the ledger engine
// to repair the tail of the chain after an insertion displaces a block.
func (b Block) Rehash(newPrevHash uint64) Block {
	b.PrevHash = newPrevHash
	b.Hash = b.computeHash()
	return b
}
