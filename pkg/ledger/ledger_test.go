package ledger

import (
	"testing"

	"github.com/pouria-shahmiri/greychain/pkg/types"
)

func block(round, prevHash uint64, tx types.Transaction, nonce, solution uint64) types.Block {
	b := types.NewUnsolvedBlock(tx, prevHash, round, 1000)
	b.Nonce = nonce
	return b.Complete(solution)
}

func TestExtensionAppendsInOrder(t *testing.T) {
	l := New()
	tx1 := types.NewTransaction("a", "b", 1)
	b1 := block(0, 0, tx1, 1, 1)

	if out := l.Insert(b1); out != OutcomeAppended {
		t.Fatalf("expected OutcomeAppended, got %v", out)
	}
	if l.Len() != 1 {
		t.Fatalf("expected length 1, got %d", l.Len())
	}
	if l.CurHash() != b1.Hash {
		t.Fatalf("cur hash mismatch")
	}

	tx2 := types.NewTransaction("c", "d", 2)
	b2 := block(1, b1.Hash, tx2, 2, 2)
	if out := l.Insert(b2); out != OutcomeAppended {
		t.Fatalf("expected OutcomeAppended, got %v", out)
	}
	if l.Len() != 2 {
		t.Fatalf("expected length 2, got %d", l.Len())
	}
}

func TestExtensionWithBadLinkIsDropped(t *testing.T) {
	l := New()
	tx := types.NewTransaction("a", "b", 1)
	b := block(0, 12345, tx, 1, 1) // wrong prev hash for an empty ledger
	if out := l.Insert(b); out != OutcomeDropped {
		t.Fatalf("expected OutcomeDropped, got %v", out)
	}
	if l.Len() != 0 {
		t.Fatalf("expected ledger to stay empty")
	}
}

// TestCompetingBlocksSameRoundConverge models two miners racing to fill the
// same round with different transactions: whichever has the smaller mining
// hash should win position r, and the loser's tx should never appear twice.
func TestCompetingBlocksSameRoundConverge(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	txA := types.NewTransaction("a", "b", 2)
	txB := types.NewTransaction("c", "d", 3)
	a := block(1, genesis.Hash, txA, 10, 10)
	b := block(1, genesis.Hash, txB, 20, 20)

	l.Insert(a)
	out := l.Insert(b)

	switch {
	case b.Less(a):
		if out != OutcomeForked && out != OutcomeReplaced {
			t.Fatalf("expected b to win position 1, got %v", out)
		}
	default:
		if out != OutcomeAppendedAtTip && out != OutcomeInserted && out != OutcomeDiscardedDuplicate {
			t.Fatalf("expected b to lose, got %v", out)
		}
	}

	ids := l.TxIDs()
	seen := map[uint64]int{}
	for _, id := range ids {
		seen[id]++
	}
	for id, count := range seen {
		if count > 1 {
			t.Fatalf("tx id %d appears %d times, expected at most once", id, count)
		}
	}
}

func TestOccupiedLoserIsAppendedAtTipWhenNoSuccessorBeatsIt(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	txA := types.NewTransaction("a", "b", 2)
	a := block(1, genesis.Hash, txA, 100, 100)
	l.Insert(a)

	var txB types.Transaction
	var bBlock types.Block
	for i := uint64(0); i < 50; i++ {
		txB = types.NewTransaction("c", "d", 3)
		candidate := block(1, genesis.Hash, txB, 1+i, 1+i)
		if !candidate.Less(a) {
			bBlock = candidate
			break
		}
	}
	if bBlock.Tx.ID == 0 {
		t.Skip("could not construct a losing candidate deterministically")
	}

	out := l.Insert(bBlock)
	if out != OutcomeAppendedAtTip {
		t.Fatalf("expected OutcomeAppendedAtTip, got %v", out)
	}
	if l.Len() != 3 {
		t.Fatalf("expected ledger length 3, got %d", l.Len())
	}
	blocks := l.Blocks()
	last := blocks[len(blocks)-1]
	if last.PrevHash != blocks[len(blocks)-2].Hash {
		t.Fatal("appended block not linked to new tip")
	}
}

func TestDuplicateTxIsDiscarded(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	tx1 := types.NewTransaction("c", "d", 2)
	b1 := block(1, genesis.Hash, tx1, 5, 5)
	l.Insert(b1)

	// A same-tx block that beats b1 by mining hash replaces it (Case B.1),
	// so search for one that loses: only a losing duplicate is discarded.
	var dup types.Block
	for i := uint64(0); i < 200; i++ {
		candidate := block(1, genesis.Hash, tx1, 999+i, 999+i)
		if !candidate.Less(b1) {
			dup = candidate
			break
		}
	}
	if dup.Hash == 0 {
		t.Fatal("could not construct a losing duplicate deterministically")
	}
	out := l.Insert(dup)
	if out != OutcomeDiscardedDuplicate {
		t.Fatalf("expected duplicate tx to be discarded, got %v", out)
	}
}

func TestFutureBlockIsBufferedThenDrains(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)

	tx1 := types.NewTransaction("c", "d", 2)
	future := block(1, genesis.Hash, tx1, 5, 5)

	if out := l.Insert(future); out != OutcomeBuffered {
		t.Fatalf("expected OutcomeBuffered for round ahead of length, got %v", out)
	}
	if l.Len() != 0 {
		t.Fatal("future block should not have been applied yet")
	}

	l.Insert(genesis)
	l.DrainFuture()

	if l.Len() != 2 {
		t.Fatalf("expected future block to drain in, got length %d", l.Len())
	}
}

func TestLinkMismatchAtOccupiedPositionIsDropped(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	tx1 := types.NewTransaction("c", "d", 2)
	b1 := block(1, genesis.Hash, tx1, 5, 5)
	l.Insert(b1)

	tx2 := types.NewTransaction("e", "f", 3)
	badLink := block(1, 0xDEADBEEF, tx2, 6, 6)
	if out := l.Insert(badLink); out != OutcomeDropped {
		t.Fatalf("expected OutcomeDropped for link mismatch, got %v", out)
	}
}

func TestInsertForkOnlyDisplacesWorseBlocks(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	tx1 := types.NewTransaction("c", "d", 2)
	b1 := block(1, genesis.Hash, tx1, 5, 5)
	l.Insert(b1)

	// Search for a competing block at round 1 that actually beats b1, so
	// the assertion does not depend on hash constants.
	var winner types.Block
	for i := uint64(0); i < 200; i++ {
		tx := types.NewTransaction("e", "f", 3)
		candidate := block(1, genesis.Hash, tx, 100+i, 100+i)
		if candidate.Less(b1) {
			winner = candidate
			break
		}
	}
	if winner.Hash == 0 {
		t.Skip("could not construct a winning candidate deterministically")
	}

	out := l.InsertFork(winner)
	if out != OutcomeForked && out != OutcomeReplaced && out != OutcomeInserted {
		t.Fatalf("expected the winning fork to be applied, got %v", out)
	}
	if got := l.Blocks()[1]; got.Tx.ID != winner.Tx.ID {
		t.Fatalf("expected fork winner at round 1, found tx id %d", got.Tx.ID)
	}

	// A stale fork that does not beat the current occupant must not undo
	// it: the occupant stays at round 1 no matter what arrives later.
	out = l.InsertFork(b1)
	if got := l.Blocks()[1]; got.Tx.ID != winner.Tx.ID {
		t.Fatalf("stale fork displaced the winner (outcome %v)", out)
	}
}

func TestRehashAfterInsertionKeepsRoundAndLinkInvariants(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	tx1 := types.NewTransaction("c", "d", 2)
	b1 := block(1, genesis.Hash, tx1, 50, 50)
	l.Insert(b1)

	tx2 := types.NewTransaction("e", "f", 3)
	b2 := block(2, l.CurHash(), tx2, 60, 60)
	l.Insert(b2)

	// Find a round-1 challenger that wins, forcing the old round-1 and
	// round-2 blocks to shift and rehash.
	var challenger types.Block
	for i := uint64(0); i < 200; i++ {
		tx := types.NewTransaction("g", "h", 4)
		candidate := block(1, genesis.Hash, tx, 500+i, 500+i)
		if candidate.Less(l.Blocks()[1]) {
			challenger = candidate
			break
		}
	}
	if challenger.Hash == 0 {
		t.Skip("could not construct a winning candidate deterministically")
	}
	l.Insert(challenger)

	blocks := l.Blocks()
	var prev uint64
	for i, blk := range blocks {
		if blk.Round != uint64(i) {
			t.Fatalf("round invariant broken: position %d has round %d", i, blk.Round)
		}
		if blk.PrevHash != prev {
			t.Fatalf("chain link broken at position %d", i)
		}
		prev = blk.Hash
	}
	if l.CurHash() != blocks[len(blocks)-1].Hash {
		t.Fatal("cur hash does not match the tip")
	}
}

func TestRenderProducesNonEmptyOutput(t *testing.T) {
	l := New()
	tx0 := types.NewTransaction("a", "b", 1)
	genesis := block(0, 0, tx0, 1, 1)
	l.Insert(genesis)

	out := l.Render()
	if out == "" {
		t.Fatal("expected non-empty rendering")
	}
}
