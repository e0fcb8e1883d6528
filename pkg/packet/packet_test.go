package packet

import (
	"testing"

	"github.com/pouria-shahmiri/greychain/pkg/keys"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

func testKeyPair(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return kp
}

func TestTxPacketRoundTripAndVerify(t *testing.T) {
	kp := testKeyPair(t)
	tx := types.NewTransaction(kp.PublicKeyPEM(), "payee-pem", 42)

	pkt, err := NewTx(tx, kp)
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if !pkt.Verify() {
		t.Fatal("expected freshly signed packet to verify")
	}

	wire := pkt.Serialize()
	if len(wire) != PkgSize {
		t.Fatalf("serialized length = %d, want %d", len(wire), PkgSize)
	}

	got, err := Deserialize(wire)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !got.Verify() {
		t.Fatal("expected round-tripped packet to verify")
	}
	if got.Kind != KindTx || got.IsForwarded {
		t.Fatalf("unexpected header: kind=%v forwarded=%v", got.Kind, got.IsForwarded)
	}

	gotTx := DecodeTx(got)
	if !gotTx.Equal(tx) {
		t.Fatalf("tx mismatch: got %+v want %+v", gotTx, tx)
	}
}

func TestBitFlipFailsVerification(t *testing.T) {
	kp := testKeyPair(t)
	tx := types.NewTransaction(kp.PublicKeyPEM(), "payee-pem", 1)

	pkt, err := NewTx(tx, kp)
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}

	pkt.Content[0] ^= 0xFF

	if pkt.Verify() {
		t.Fatal("expected bit-flipped content to fail verification")
	}
}

func TestStatusAndNodesResRoundTrip(t *testing.T) {
	kp := testKeyPair(t)
	self := types.PeerInfo{PubKeyPEM: kp.PublicKeyPEM(), Port: 6969, Online: true}

	statusPkt, err := NewStatus(self, kp)
	if err != nil {
		t.Fatalf("NewStatus: %v", err)
	}
	if !statusPkt.Verify() {
		t.Fatal("status packet should verify")
	}
	got := DecodeStatus(statusPkt)
	if got != self {
		t.Fatalf("status mismatch: got %+v want %+v", got, self)
	}

	peers := []types.PeerInfo{self, {PubKeyPEM: "other-pem", Port: 6970, Online: true}}
	nodesPkt, err := NewNodesRes(peers, kp)
	if err != nil {
		t.Fatalf("NewNodesRes: %v", err)
	}
	gotPeers := DecodeNodesRes(nodesPkt)
	if len(gotPeers) != len(peers) {
		t.Fatalf("peer count mismatch: got %d want %d", len(gotPeers), len(peers))
	}
}

func TestBlockAndForkPacket(t *testing.T) {
	kp := testKeyPair(t)
	tx := types.NewTransaction(kp.PublicKeyPEM(), "payee-pem", 7)
	b := types.NewUnsolvedBlock(tx, 0, 0, 1000).Complete(99)

	blockPkt, err := NewBlock(b, kp)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	if DecodeBlock(blockPkt) != b {
		t.Fatal("block payload mismatch")
	}

	forkPkt, err := NewFork(b, kp)
	if err != nil {
		t.Fatalf("NewFork: %v", err)
	}
	if forkPkt.Kind != KindFork {
		t.Fatalf("expected KindFork, got %v", forkPkt.Kind)
	}
}

func TestNodesResCapacityMatchesContentWindow(t *testing.T) {
	kp := testKeyPair(t)
	pem := kp.PublicKeyPEM()

	if MaxNodesPerRes < 1 {
		t.Fatalf("MaxNodesPerRes = %d, want at least 1", MaxNodesPerRes)
	}

	// A full-capacity list of worst-case descriptors must encode inside
	// the content window without running off the end.
	peers := make([]types.PeerInfo, MaxNodesPerRes)
	for i := range peers {
		peers[i] = types.PeerInfo{PubKeyPEM: pem, Port: uint16(7000 + i), Online: true}
	}
	pkt, err := NewNodesRes(peers, kp)
	if err != nil {
		t.Fatalf("NewNodesRes at capacity: %v", err)
	}
	if got := DecodeNodesRes(pkt); len(got) != MaxNodesPerRes {
		t.Fatalf("decoded %d peers, want %d", len(got), MaxNodesPerRes)
	}

	// One past capacity must be refused, not truncated.
	over := append(peers, types.PeerInfo{PubKeyPEM: pem, Port: 9999, Online: true})
	if _, err := NewNodesRes(over, kp); err == nil {
		t.Fatal("expected an error for a list past capacity")
	}
}

func TestForwardedCopyDoesNotMutateOriginal(t *testing.T) {
	kp := testKeyPair(t)
	peer := types.PeerInfo{PubKeyPEM: kp.PublicKeyPEM(), Port: 6969, Online: true}
	pkt, err := NewStatus(peer, kp)
	if err != nil {
		t.Fatalf("NewStatus: %v", err)
	}

	fwd := pkt.Forwarded()
	if pkt.IsForwarded {
		t.Fatal("original packet should remain unforwarded")
	}
	if !fwd.IsForwarded {
		t.Fatal("copy should be marked forwarded")
	}
}
