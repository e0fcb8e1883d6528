// Package node composes the codec, packet, transport, membership, miner
// and ledger layers into a running wallet: a receiver goroutine
// multiplexing inbound packets, completed blocks from the miner, and
// future-dated blocks becoming current.
package node

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pouria-shahmiri/greychain/pkg/config"
	"github.com/pouria-shahmiri/greychain/pkg/keys"
	"github.com/pouria-shahmiri/greychain/pkg/ledger"
	"github.com/pouria-shahmiri/greychain/pkg/membership"
	"github.com/pouria-shahmiri/greychain/pkg/mining"
	"github.com/pouria-shahmiri/greychain/pkg/monitoring"
	"github.com/pouria-shahmiri/greychain/pkg/packet"
	"github.com/pouria-shahmiri/greychain/pkg/snapshot"
	"github.com/pouria-shahmiri/greychain/pkg/transport"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// ErrNoResponse is returned by GoOnline when no peer answered the online
// announcement within the configured wait. The node remains up.
var ErrNoResponse = errors.New("node: no response to online status")

// Node is one wallet/miner/replica participant. Its shared state is split
// across independent locks: online, idling, the ledger's own lock and the
// membership registry's own lock. When both the ledger and membership
// locks are needed, the ledger lock is acquired first.
type Node struct {
	cfg *config.NodeConfig

	keypair  *keys.KeyPair
	listener *transport.Listener
	registry *membership.Registry
	chain    *ledger.Ledger
	miner    *mining.Miner
	metrics  *monitoring.Metrics
	log      *monitoring.Logger

	onlineMu sync.Mutex
	online   bool

	idlingMu sync.Mutex
	idling   bool

	recvDone chan struct{}
}

// New boots a node: generates its keypair, binds a listener on the next
// process-wide port, preloads the seed peers, starts the miner and the
// receiver goroutine. The seed list is empty for the bootstrap node.
func New(cfg *config.NodeConfig, seeds []types.PeerInfo) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node: bad config: %w", err)
	}
	if err := checkCompiledTunables(cfg); err != nil {
		return nil, err
	}
	monitoring.SetGlobalLevel(monitoring.ParseLevel(cfg.LogLevel))

	kp, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		keypair:  kp,
		listener: transport.Listen(),
		registry: membership.New(),
		chain:    ledger.New(),
		miner:    mining.New(),
		metrics:  monitoring.NewMetrics(),
		recvDone: make(chan struct{}),
		online:   true,
	}
	n.log = monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel)).
		WithField("wallet", n.listener.Port())

	for _, seed := range seeds {
		n.registry.Register(seed.PubKeyPEM, seed.Port)
	}

	go n.run()

	n.log.Infof("wallet %s up at port %d", kp.Fingerprint(), n.listener.Port())
	return n, nil
}

// checkCompiledTunables refuses a config that disagrees with the
// compiled-in wire and mining constants. Every node on the network must
// share these; a mismatch is a programming fault caught at boot, not a
// silently divergent peer.
func checkCompiledTunables(cfg *config.NodeConfig) error {
	if cfg.RSABits != keys.Bits {
		return fmt.Errorf("node: config RSA bits %d != compiled %d", cfg.RSABits, keys.Bits)
	}
	if cfg.FixedContentSize != packet.FixedContentSize {
		return fmt.Errorf("node: config content size %d != compiled %d", cfg.FixedContentSize, packet.FixedContentSize)
	}
	if want := uint64(math.MaxUint64) >> cfg.DifficultyShift; want != mining.Difficulty {
		return fmt.Errorf("node: config difficulty shift %d != compiled difficulty", cfg.DifficultyShift)
	}
	if cfg.ConnectTimeout != transport.ConnectTimeout {
		return fmt.Errorf("node: config connect timeout %v != compiled %v", cfg.ConnectTimeout, transport.ConnectTimeout)
	}
	if cfg.StartingPort != transport.BasePort {
		return fmt.Errorf("node: config starting port %d != compiled %d", cfg.StartingPort, transport.BasePort)
	}
	return nil
}

// Port returns the node's listening port.
func (n *Node) Port() uint16 {
	return n.listener.Port()
}

// PublicKeyPEM returns the node's wire identity.
func (n *Node) PublicKeyPEM() string {
	return n.keypair.PublicKeyPEM()
}

// Descriptor returns this node's own peer descriptor, the value other
// nodes are seeded with.
func (n *Node) Descriptor() types.PeerInfo {
	return types.PeerInfo{PubKeyPEM: n.PublicKeyPEM(), Port: n.Port(), Online: true}
}

// CurHash returns the ledger tip hash, or 0 if empty.
func (n *Node) CurHash() uint64 {
	return n.chain.CurHash()
}

// LedgerLen returns the current ledger length.
func (n *Node) LedgerLen() int {
	return n.chain.Len()
}

// Blocks returns a snapshot copy of the ledger.
func (n *Node) Blocks() []types.Block {
	return n.chain.Blocks()
}

// TxIDs returns the ids of every transaction in the ledger.
func (n *Node) TxIDs() []uint64 {
	return n.chain.TxIDs()
}

// MembershipLen returns how many peers this node currently knows.
func (n *Node) MembershipLen() int {
	return n.registry.Len()
}

// Metrics exposes the node's operational counters.
func (n *Node) Metrics() *monitoring.Metrics {
	return n.metrics
}

// GoOnline announces this node to its seed peers and waits for the
// membership set to become non-empty. On timeout it returns ErrNoResponse
// but the node remains up. The bootstrap node has nobody to announce to
// and should not call this.
func (n *Node) GoOnline() error {
	pkt, err := packet.NewStatus(n.Descriptor(), n.keypair)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.registry.Broadcast(pkt)

	deadline := time.Now().Add(n.cfg.StatusWait)
	for time.Now().Before(deadline) {
		if n.registry.Len() > 0 {
			return nil
		}
		time.Sleep(n.cfg.PollInterval)
	}
	return ErrNoResponse
}

// GoOffline announces this node as offline so peers deregister it.
func (n *Node) GoOffline() {
	desc := n.Descriptor()
	desc.Online = false
	pkt, err := packet.NewStatus(desc, n.keypair)
	if err != nil {
		n.log.Errorf("could not build offline status: %v", err)
		return
	}
	n.registry.Broadcast(pkt)
}

// SendTx originates a signed transaction paying amount to payee,
// broadcasts it to every known peer, and hands it to this node's own
// miner -- the sender competes to mine its own transaction like everyone
// else.
func (n *Node) SendTx(payeePEM string, amount float64) (types.Transaction, error) {
	tx := types.NewTransaction(n.PublicKeyPEM(), payeePEM, amount)
	pkt, err := packet.NewTx(tx, n.keypair)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("node: %w", err)
	}

	n.setIdling(false)
	n.miner.Enqueue(tx, n.chain.CurHash(), uint64(n.chain.Len()))
	n.registry.Broadcast(pkt)

	n.log.Infof("sent tx id %d for %.2f", tx.ID, amount)
	return tx, nil
}

// IsIdling reports whether the node has no pending work: no inbound
// packet on the last receive tick, an empty mining queue, and an empty
// future-block buffer.
func (n *Node) IsIdling() bool {
	n.idlingMu.Lock()
	defer n.idlingMu.Unlock()
	return n.idling
}

// WaitIdle polls until IsIdling holds or the timeout passes.
func (n *Node) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.IsIdling() {
			return true
		}
		time.Sleep(n.cfg.PollInterval)
	}
	return n.IsIdling()
}

func (n *Node) setIdling(v bool) {
	n.idlingMu.Lock()
	n.idling = v
	n.idlingMu.Unlock()
}

func (n *Node) isOnline() bool {
	n.onlineMu.Lock()
	defer n.onlineMu.Unlock()
	return n.online
}

// Shutdown announces offline, stops the receiver and the miner (waiting
// for the current puzzle to finish), closes the listener, and writes the
// ledger snapshots: the human-readable text dump at
// <DataDir>/walletNNNN and a LevelDB copy at <DataDir>/walletNNNN.db.
func (n *Node) Shutdown() {
	n.GoOffline()

	n.onlineMu.Lock()
	n.online = false
	n.onlineMu.Unlock()

	<-n.recvDone
	n.listener.Close()
	n.miner.Shutdown()

	n.persistLedger()
	if n.cfg.EnableMonitoring {
		n.log.Infof("final metrics: %v", n.metrics.Summary())
	}
	n.log.Infof("wallet at port %d is offline now", n.Port())
}

func (n *Node) persistLedger() {
	if err := os.MkdirAll(n.cfg.DataDir, 0o755); err != nil {
		n.log.Errorf("could not create data dir %s: %v", n.cfg.DataDir, err)
		return
	}

	name := fmt.Sprintf("wallet%d", n.Port())
	path := filepath.Join(n.cfg.DataDir, name)
	if err := os.WriteFile(path, []byte(n.chain.Render()), 0o644); err != nil {
		n.log.Errorf("could not write ledger dump %s: %v", path, err)
	}

	store, err := snapshot.Open(path + ".db")
	if err != nil {
		n.log.Errorf("could not open snapshot db: %v", err)
		return
	}
	defer store.Close()
	if err := store.WriteLedger(n.chain.Blocks(), n.chain.CurHash()); err != nil {
		n.log.Errorf("could not write snapshot: %v", err)
	}
}

// run is the receiver event loop: inbound packets, completed blocks from
// the miner, and the future-block buffer drain, multiplexed on one
// goroutine.
func (n *Node) run() {
	defer close(n.recvDone)

	for n.isOnline() {
		worked := false

		conn, err := n.listener.Accept(n.cfg.PollInterval)
		switch {
		case err == nil:
			worked = true
			if pkt, rerr := transport.Receive(conn); rerr == nil {
				n.metrics.RecordPacketReceived()
				n.handlePacket(pkt)
			} else if !errors.Is(rerr, transport.ErrInvalidSignature) {
				n.log.Warnf("dropping inbound connection: %v", rerr)
			}
		case errors.Is(err, transport.ErrWouldBlock):
			// nothing inbound this tick
		default:
			if n.isOnline() {
				n.log.Errorf("accept failed: %v", err)
			}
		}

		select {
		case b := <-n.miner.Completed():
			worked = true
			n.handleMined(b)
		default:
		}

		n.chain.DrainFuture()
		n.metrics.SetFutureBufferSize(n.chain.FutureLen())
		n.metrics.SetPeerCount(n.registry.Len())

		n.setIdling(!worked && n.miner.IsIdling() && n.chain.FutureLen() == 0)
	}
}

// handlePacket dispatches one verified inbound packet.
func (n *Node) handlePacket(p *packet.Packet) {
	if p.Sender == n.PublicKeyPEM() {
		return // own broadcast echoed back
	}

	switch p.Kind {
	case packet.KindTx:
		n.handleTx(p)
	case packet.KindStatus:
		n.handleStatus(p)
	case packet.KindNodesRes:
		n.handleNodesRes(p)
	case packet.KindBlock:
		n.handleBlock(p)
	case packet.KindFork:
		n.handleFork(p)
	default:
		n.log.Warnf("dropping packet of unknown kind %d", p.Kind)
	}
}

func (n *Node) handleTx(p *packet.Packet) {
	tx := packet.DecodeTx(p)
	if n.chain.HasTx(tx.ID) {
		return
	}
	n.miner.Enqueue(tx, n.chain.CurHash(), uint64(n.chain.Len()))
}

// handleStatus runs the join protocol of the gossip layer. A direct
// (non-forwarded) Status gets a NodesRes reply; a new peer is re-announced
// once with the forwarded flag set so recipients do not re-reply.
func (n *Node) handleStatus(p *packet.Packet) {
	peer := packet.DecodeStatus(p)
	if peer.PubKeyPEM == n.PublicKeyPEM() {
		return
	}

	if !peer.Online {
		n.registry.Deregister(peer.PubKeyPEM)
		return
	}

	if !p.IsForwarded {
		n.replyNodes(peer)
	}

	if n.registry.IsNew(peer.PubKeyPEM) {
		n.registry.BroadcastForward(p)
		n.registry.Register(peer.PubKeyPEM, peer.Port)
	}
}

// replyNodes answers a joining peer with this node's membership snapshot,
// itself included, so the joiner learns both the replier and everyone the
// replier knows. The snapshot is capped at what a content window can
// carry; a joiner on a larger network learns the rest through forwarded
// Status packets.
func (n *Node) replyNodes(to types.PeerInfo) {
	peers := n.registry.ToPeers()
	out := make([]types.PeerInfo, 0, len(peers)+1)
	out = append(out, n.Descriptor())
	for _, pr := range peers {
		if pr.PubKeyPEM == to.PubKeyPEM {
			continue
		}
		if len(out) == packet.MaxNodesPerRes {
			n.log.Warnf("membership snapshot truncated to %d peers", packet.MaxNodesPerRes)
			break
		}
		out = append(out, pr)
	}

	pkt, err := packet.NewNodesRes(out, n.keypair)
	if err != nil {
		n.log.Errorf("could not build NodesRes: %v", err)
		return
	}
	transport.Send(to.Port, pkt)
}

func (n *Node) handleNodesRes(p *packet.Packet) {
	for _, peer := range packet.DecodeNodesRes(p) {
		if peer.PubKeyPEM == n.PublicKeyPEM() {
			continue
		}
		n.registry.Register(peer.PubKeyPEM, peer.Port)
	}
}

func (n *Node) handleBlock(p *packet.Packet) {
	b := packet.DecodeBlock(p)
	start := time.Now()
	outcome := n.chain.Insert(b)
	n.recordInsert(outcome, start)

	if outcome == ledger.OutcomeForked {
		n.rebroadcastFork(b)
	}
}

// handleFork applies a fork decided by a peer through the ledger's
// insertion judgment (no truncation), without re-broadcasting it further.
func (n *Node) handleFork(p *packet.Packet) {
	b := packet.DecodeBlock(p)
	n.chain.InsertFork(b)
	n.metrics.RecordFork(b.Round)
}

// handleMined integrates a block this node mined itself and gossips it.
func (n *Node) handleMined(b types.Block) {
	start := time.Now()
	outcome := n.chain.Insert(b)
	n.recordInsert(outcome, start)
	n.metrics.RecordTxMined(time.Since(time.UnixMicro(int64(b.Timestamp))))

	switch outcome {
	case ledger.OutcomeDropped, ledger.OutcomeDiscardedDuplicate:
		return
	case ledger.OutcomeForked:
		n.rebroadcastFork(b)
		return
	}

	// Gossip the block as placed: the engine may have moved it to a later
	// round or relinked it on insertion.
	placed, ok := n.chain.BlockByTxID(b.Tx.ID)
	if !ok {
		return
	}
	pkt, err := packet.NewBlock(placed, n.keypair)
	if err != nil {
		n.log.Errorf("could not build block packet: %v", err)
		return
	}
	n.registry.Broadcast(pkt)
}

// rebroadcastFork sends this block to every peer as a Fork packet; each
// receiver applies it through the same insertion judgment as a Block.
func (n *Node) rebroadcastFork(b types.Block) {
	n.metrics.RecordFork(b.Round)
	pkt, err := packet.NewFork(b, n.keypair)
	if err != nil {
		n.log.Errorf("could not build fork packet: %v", err)
		return
	}
	n.registry.Broadcast(pkt)
	n.log.Warnf("rebroadcast fork at round %d", b.Round)
	// TODO: rebroadcast the transactions of the truncated tail so they
	// are not lost to the ledger.
}

func (n *Node) recordInsert(outcome ledger.Outcome, start time.Time) {
	switch outcome {
	case ledger.OutcomeDropped, ledger.OutcomeDiscardedDuplicate, ledger.OutcomeBuffered:
		return
	}
	n.metrics.RecordBlockInserted(time.Since(start))
}
