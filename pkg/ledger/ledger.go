// Package ledger implements the round-indexed, hash-linked sequence of
// blocks and the convergent insertion algorithm that decides which block
// wins a given position when multiple peers race to fill it. This is the
// core of the whole system.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pouria-shahmiri/greychain/pkg/monitoring"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// Outcome reports what Insert/InsertFork actually did, so the node's
// event loop knows whether (and how) to re-broadcast.
type Outcome int

const (
	// OutcomeAppended: the block extended the ledger (Case A).
	OutcomeAppended Outcome = iota
	// OutcomeReplaced: the block won an occupied position and the tail
	// beyond it was rehashed to stay linked (Case B.1, tail preserved).
	OutcomeReplaced
	// OutcomeForked: the block won the occupied position that happened
	// to be the current tip. If the old tip carried the same tx it is
	// replaced; otherwise the old tip moves to the next round and is
	// rehashed onto the winner. This result is reported distinctly so the
	// caller re-broadcasts it as a Fork packet rather than a Block packet.
	OutcomeForked
	// OutcomeInserted: the block was spliced into the tail ahead of a
	// worse mining hash (Case B.2).
	OutcomeInserted
	// OutcomeAppendedAtTip: the block lost at its own round everywhere
	// in the existing tail but had no worse-ranked successor to slot
	// ahead of, so it was rehashed onto the current tip and appended.
	OutcomeAppendedAtTip
	// OutcomeDiscardedDuplicate: a block carrying the same tx already
	// occupies the tail; B is redundant and dropped.
	OutcomeDiscardedDuplicate
	// OutcomeBuffered: the block is ahead of the current length and was
	// parked in the future-block buffer (Case C).
	OutcomeBuffered
	// OutcomeDropped: the block's prev_hash does not match the expected
	// predecessor -- a structural invariant violation, logged and
	// dropped, not a fork (Case D).
	OutcomeDropped
)

// Ledger holds the append-mostly, hash-linked block sequence plus the
// future-block buffer. Callers wishing to also hold membership's lock
// must acquire this ledger's lock first.
type Ledger struct {
	mu     sync.Mutex
	blocks []types.Block
	future []types.Block // sorted descending by round
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Len returns the current ledger length (also the next round to extend).
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// CurHash is the hash of the last block, or 0 if empty.
func (l *Ledger) CurHash() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.curHashLocked()
}

func (l *Ledger) curHashLocked() uint64 {
	if len(l.blocks) == 0 {
		return 0
	}
	return l.blocks[len(l.blocks)-1].Hash
}

// Blocks returns a snapshot copy of the ledger.
func (l *Ledger) Blocks() []types.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// TxIDs returns the ids of every transaction currently in the ledger.
func (l *Ledger) TxIDs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]uint64, len(l.blocks))
	for i, b := range l.blocks {
		ids[i] = b.Tx.ID
	}
	return ids
}

// FutureLen returns how many blocks are parked in the future buffer,
// part of the node-wide idle condition.
func (l *Ledger) FutureLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.future)
}

// BlockByTxID returns the block currently carrying this transaction, as
// placed: an insertion may have moved the block to a later round or
// relinked it, so callers gossiping a block must read back the placed
// copy rather than the one they handed to Insert.
func (l *Ledger) BlockByTxID(txID uint64) (types.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.blocks {
		if b.Tx.ID == txID {
			return b, true
		}
	}
	return types.Block{}, false
}

// HasTx reports whether a transaction with this id is already recorded
// anywhere in the ledger.
func (l *Ledger) HasTx(txID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.blocks {
		if b.Tx.ID == txID {
			return true
		}
	}
	return false
}

// Insert runs the convergent insertion algorithm (Cases A-D) for a block
// received as a Block-kind packet, or produced locally by this node's
// miner.
func (l *Ledger) Insert(b types.Block) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(b)
}

// InsertFork applies a fork decided by a peer: the same insertion
// judgment as Insert, so a Fork packet can only displace a block it
// actually beats by mining hash (a stale fork arriving after a better one
// must not undo it). The caller never re-broadcasts the result, which is
// what stops fork storms. The ledger is never truncated: a displaced block
// moves to a later round, and the only block ever removed is one carrying
// the incoming block's own transaction.
func (l *Ledger) InsertFork(b types.Block) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.insertLocked(b)
	if out == OutcomeForked {
		monitoring.Warnf("fork applied at round %d, tip hash now %d", b.Round, b.Hash)
	}
	return out
}

func (l *Ledger) insertLocked(b types.Block) Outcome {
	n := len(l.blocks)
	r := int(b.Round)

	switch {
	case r == n:
		return l.insertExtensionLocked(b)
	case r < n:
		return l.insertOccupiedLocked(b, r)
	default:
		l.bufferFutureLocked(b)
		return OutcomeBuffered
	}
}

// insertExtensionLocked is Case A.
func (l *Ledger) insertExtensionLocked(b types.Block) Outcome {
	if b.PrevHash == l.curHashLocked() {
		l.blocks = append(l.blocks, b)
		return OutcomeAppended
	}
	monitoring.Warnf("dropping block at round %d: prev_hash %d does not match tip %d", b.Round, b.PrevHash, l.curHashLocked())
	return OutcomeDropped
}

// insertOccupiedLocked is Case B/D: round r already has a block.
func (l *Ledger) insertOccupiedLocked(b types.Block, r int) Outcome {
	var expectedPrev uint64
	if r > 0 {
		expectedPrev = l.blocks[r-1].Hash
	}
	if b.PrevHash != expectedPrev {
		monitoring.Warnf("dropping block at round %d: prev_hash %d does not match predecessor %d", b.Round, b.PrevHash, expectedPrev)
		return OutcomeDropped
	}

	existing := l.blocks[r]
	if b.Less(existing) {
		return l.winOccupiedLocked(b, existing, r)
	}
	return l.loseOccupiedLocked(b, r)
}

// winOccupiedLocked is Case B.1: b beats the current occupant of r.
func (l *Ledger) winOccupiedLocked(b, existing types.Block, r int) Outcome {
	hadTail := r < len(l.blocks)-1

	if existing.Tx.Equal(b.Tx) {
		l.blocks[r] = b
		monitoring.Infof("better block at round %d replaces same tx id %d", r, b.Tx.ID)
	} else {
		l.blocks = removeTxFromIndex(l.blocks, r, b.Tx.ID)
		l.blocks = insertAt(l.blocks, r, b)
		monitoring.Infof("better block at round %d supersedes tx id %d with tx id %d", r, existing.Tx.ID, b.Tx.ID)
	}

	l.rehashFromLocked(r + 1)

	if hadTail {
		return OutcomeReplaced
	}
	return OutcomeForked
}

// loseOccupiedLocked is Case B.2: b does not beat the current occupant.
func (l *Ledger) loseOccupiedLocked(b types.Block, r int) Outcome {
	for i := r; i < len(l.blocks); i++ {
		if l.blocks[i].Tx.Equal(b.Tx) {
			monitoring.Infof("discarding duplicate tx id %d already placed at round %d", b.Tx.ID, i)
			return OutcomeDiscardedDuplicate
		}
	}

	insertAtIdx := -1
	for i := r; i < len(l.blocks); i++ {
		if l.blocks[i].MiningHash() > b.MiningHash() {
			insertAtIdx = i
			break
		}
	}

	if insertAtIdx >= 0 {
		l.blocks = removeTxFromIndex(l.blocks, r, b.Tx.ID)
		if insertAtIdx > len(l.blocks) {
			insertAtIdx = len(l.blocks)
		}
		l.blocks = insertAt(l.blocks, insertAtIdx, b)
		l.rehashFromLocked(insertAtIdx)
		return OutcomeInserted
	}

	b.Round = uint64(len(l.blocks))
	b = b.Rehash(l.curHashLocked())
	l.blocks = append(l.blocks, b)
	return OutcomeAppendedAtTip
}

// rehashFromLocked repairs the tail from idx onward after an insertion or
// replacement displaced it: every block's round is forced back to its
// index (an insertion shifts the old tail one position right), its
// PrevHash is pointed at its (already rehashed) predecessor, and its own
// hash recomputed.
func (l *Ledger) rehashFromLocked(idx int) {
	if idx < 0 {
		idx = 0
	}
	var prevHash uint64
	if idx > 0 {
		prevHash = l.blocks[idx-1].Hash
	}
	for i := idx; i < len(l.blocks); i++ {
		l.blocks[i].Round = uint64(i)
		l.blocks[i] = l.blocks[i].Rehash(prevHash)
		prevHash = l.blocks[i].Hash
	}
}

// bufferFutureLocked parks a block that arrived ahead of the current
// ledger length (Case C), keeping the buffer sorted descending by round.
func (l *Ledger) bufferFutureLocked(b types.Block) {
	for _, f := range l.future {
		if f.Tx.ID == b.Tx.ID && f.Round == b.Round {
			return // already buffered
		}
	}
	l.future = append(l.future, b)
	sort.Slice(l.future, func(i, j int) bool { return l.future[i].Round > l.future[j].Round })
	monitoring.Infof("buffered future block for round %d (current length %d)", b.Round, len(l.blocks))
}

// DrainFuture re-inserts every buffered block that has become current,
// called once per event-loop tick.
func (l *Ledger) DrainFuture() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.future) > 0 {
		last := l.future[len(l.future)-1]
		if last.Round != uint64(len(l.blocks)) && int(last.Round) >= len(l.blocks) {
			break
		}
		l.future = l.future[:len(l.future)-1]
		l.insertLocked(last)
	}
}

// removeTxFromIndex returns a copy of blocks with any entry from index
// `from` onward whose transaction id equals txID removed, preserving
// order and leaving blocks[:from] untouched.
func removeTxFromIndex(blocks []types.Block, from int, txID uint64) []types.Block {
	out := make([]types.Block, 0, len(blocks))
	out = append(out, blocks[:from]...)
	for i := from; i < len(blocks); i++ {
		if blocks[i].Tx.ID == txID {
			continue
		}
		out = append(out, blocks[i])
	}
	return out
}

// insertAt inserts b at position idx, shifting the tail right.
func insertAt(blocks []types.Block, idx int, b types.Block) []types.Block {
	out := make([]types.Block, 0, len(blocks)+1)
	out = append(out, blocks[:idx]...)
	out = append(out, b)
	out = append(out, blocks[idx:]...)
	return out
}

// Render produces the human-readable textual rendering of the ledger
// written to blockchains/walletNNNN at shutdown. Format is
// informational only.
func (l *Ledger) Render() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("------------ greychain ------------\n")
	for _, b := range l.blocks {
		sb.WriteString("==========================\n")
		fmt.Fprintf(&sb, "hash: %d (prev)\n", b.PrevHash)
		fmt.Fprintf(&sb, "round: %d\n", b.Round)
		fmt.Fprintf(&sb, "timestamp: %d\n", b.Timestamp)
		fmt.Fprintf(&sb, "tx id: %d\n", b.Tx.ID)
		fmt.Fprintf(&sb, "amount: %v\n", b.Tx.Amount)
		fmt.Fprintf(&sb, "payer:\n%s\n", b.Tx.Payer)
		fmt.Fprintf(&sb, "payee:\n%s\n", b.Tx.Payee)
		fmt.Fprintf(&sb, "hash: %d (cur)\n", b.Hash)
		sb.WriteString("==========================\n")
	}
	return sb.String()
}
