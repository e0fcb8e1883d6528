package node

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pouria-shahmiri/greychain/pkg/config"
	"github.com/pouria-shahmiri/greychain/pkg/keys"
	"github.com/pouria-shahmiri/greychain/pkg/packet"
	"github.com/pouria-shahmiri/greychain/pkg/transport"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// testConfig shortens the poll interval so tests converge quickly, and
// points ledger dumps at a per-test temp dir.
func testConfig(t *testing.T) *config.NodeConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StatusWait = 2 * time.Second
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "warn"
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bootNode(t *testing.T, cfg *config.NodeConfig, seeds []types.PeerInfo) *Node {
	t.Helper()
	n, err := New(cfg, seeds)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestThreeNodeConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-node mining test")
	}
	cfg := testConfig(t)

	a := bootNode(t, cfg, nil)
	seed := []types.PeerInfo{a.Descriptor()}
	b := bootNode(t, cfg, seed)
	c := bootNode(t, cfg, seed)

	if err := b.GoOnline(); err != nil {
		t.Fatalf("b could not go online: %v", err)
	}
	if err := c.GoOnline(); err != nil {
		t.Fatalf("c could not go online: %v", err)
	}

	nodes := []*Node{a, b, c}
	waitFor(t, 5*time.Second, "full mesh membership", func() bool {
		for _, n := range nodes {
			if n.MembershipLen() != 2 {
				return false
			}
		}
		return true
	})

	tx1, err := a.SendTx(b.PublicKeyPEM(), 420.69)
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := c.SendTx(a.PublicKeyPEM(), 64.42)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 90*time.Second, "ledger head agreement", func() bool {
		if a.LedgerLen() != 2 || b.LedgerLen() != 2 || c.LedgerLen() != 2 {
			return false
		}
		return a.CurHash() == b.CurHash() && a.CurHash() == c.CurHash() && a.CurHash() != 0
	})

	want := map[uint64]bool{tx1.ID: true, tx2.ID: true}
	for _, n := range nodes {
		ids := n.TxIDs()
		if len(ids) != len(want) {
			t.Fatalf("node %d has %d txs, want %d", n.Port(), len(ids), len(want))
		}
		for _, id := range ids {
			if !want[id] {
				t.Fatalf("node %d recorded unexpected tx id %d", n.Port(), id)
			}
		}
	}

	// Every node's chain must satisfy the link and round invariants.
	for _, n := range nodes {
		blocks := n.Blocks()
		var prev uint64
		for i, blk := range blocks {
			if blk.Round != uint64(i) {
				t.Fatalf("node %d: round %d at position %d", n.Port(), blk.Round, i)
			}
			if blk.PrevHash != prev {
				t.Fatalf("node %d: broken chain link at position %d", n.Port(), i)
			}
			prev = blk.Hash
		}
	}

	for _, n := range nodes {
		n.Shutdown()
	}
}

func TestLateJoinerLearnsWholeNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-node test")
	}
	cfg := testConfig(t)

	a := bootNode(t, cfg, nil)
	seed := []types.PeerInfo{a.Descriptor()}

	b := bootNode(t, cfg, seed)
	if err := b.GoOnline(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "a and b to pair up", func() bool {
		return a.MembershipLen() == 1 && b.MembershipLen() == 1
	})

	c := bootNode(t, cfg, seed)
	if err := c.GoOnline(); err != nil {
		t.Fatal(err)
	}

	// C is seeded only with A, but must learn B through A's NodesRes.
	waitFor(t, 2*time.Second, "late joiner to learn the whole network", func() bool {
		return c.MembershipLen() == 2
	})

	for _, n := range []*Node{a, b, c} {
		n.Shutdown()
	}
}

func TestTamperedPacketLeavesStateUnchanged(t *testing.T) {
	cfg := testConfig(t)
	n := bootNode(t, cfg, nil)
	defer n.Shutdown()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	tx := types.NewTransaction(kp.PublicKeyPEM(), n.PublicKeyPEM(), 1)
	pkt, err := packet.NewTx(tx, kp)
	if err != nil {
		t.Fatal(err)
	}
	pkt.Content[0] ^= 0x01 // bit flip: signature no longer matches

	if err := transport.Send(n.Port(), pkt); err != nil {
		t.Fatalf("send: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if n.LedgerLen() != 0 {
		t.Fatalf("tampered packet produced a block: ledger length %d", n.LedgerLen())
	}
	if n.MembershipLen() != 0 {
		t.Fatal("tampered packet changed membership")
	}
}

func TestOfflineStatusDeregisters(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-node test")
	}
	cfg := testConfig(t)

	a := bootNode(t, cfg, nil)
	seed := []types.PeerInfo{a.Descriptor()}
	b := bootNode(t, cfg, seed)
	if err := b.GoOnline(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "a to register b", func() bool {
		return a.MembershipLen() == 1
	})

	b.Shutdown()
	waitFor(t, 5*time.Second, "a to deregister b", func() bool {
		return a.MembershipLen() == 0
	})
	a.Shutdown()
}

func TestShutdownWritesLedgerDump(t *testing.T) {
	cfg := testConfig(t)
	n := bootNode(t, cfg, nil)
	port := n.Port()
	n.Shutdown()

	dump := filepath.Join(cfg.DataDir, fmt.Sprintf("wallet%d", port))
	if _, err := os.Stat(dump); err != nil {
		t.Fatalf("ledger text dump missing: %v", err)
	}
	if _, err := os.Stat(dump + ".db"); err != nil {
		t.Fatalf("ledger snapshot db missing: %v", err)
	}
}

func TestGoOnlineWithoutPeersReportsNoResponse(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatusWait = 200 * time.Millisecond
	n := bootNode(t, cfg, nil)
	defer n.Shutdown()

	if err := n.GoOnline(); err != ErrNoResponse {
		t.Fatalf("expected ErrNoResponse for a bootstrap node, got %v", err)
	}
}
