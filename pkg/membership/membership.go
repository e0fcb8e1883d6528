// Package membership tracks the set of known peers and provides the
// broadcast primitives the gossip join protocol is built from. The node
// package drives the actual Status/NodesRes handshake; this package only
// holds the registry and send-to-everyone operations.
package membership

import (
	"sync"

	"github.com/pouria-shahmiri/greychain/pkg/monitoring"
	"github.com/pouria-shahmiri/greychain/pkg/packet"
	"github.com/pouria-shahmiri/greychain/pkg/transport"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// Registry maps peer PEM identity to loopback port.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]uint16
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]uint16)}
}

// Register idempotently upserts a peer's port.
func (r *Registry) Register(pem string, port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, existed := r.peers[pem]; !existed {
		monitoring.Infof("registered peer at port %d", port)
	}
	r.peers[pem] = port
}

// Deregister removes a peer.
func (r *Registry) Deregister(pem string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if port, ok := r.peers[pem]; ok {
		delete(r.peers, pem)
		monitoring.Infof("deregistered peer at port %d", port)
	}
}

// IsNew reports whether pem is NOT yet known. The join protocol keys its
// forward-once decision off this predicate (the NodesRes reply is keyed
// off the packet's forwarded flag instead).
func (r *Registry) IsNew(pem string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, known := r.peers[pem]
	return !known
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ToPeers snapshots the registry as a peer-descriptor list.
func (r *Registry) ToPeers() []types.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]types.PeerInfo, 0, len(r.peers))
	for pem, port := range r.peers {
		peers = append(peers, types.PeerInfo{PubKeyPEM: pem, Port: port, Online: true})
	}
	return peers
}

// PortOf returns the port registered for pem, if any.
func (r *Registry) PortOf(pem string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	port, ok := r.peers[pem]
	return port, ok
}

// Broadcast sends pkt to every known peer, best-effort: a send failure to
// one peer never stops delivery to the rest.
func (r *Registry) Broadcast(pkt *packet.Packet) {
	for _, port := range r.snapshotPorts() {
		transport.Send(port, pkt)
	}
}

// BroadcastForward sends a forwarded copy of pkt to every known peer, so
// recipients know not to reply to it again (the duplicate-reply
// suppression the join protocol relies on).
func (r *Registry) BroadcastForward(pkt *packet.Packet) {
	fwd := pkt.Forwarded()
	for _, port := range r.snapshotPorts() {
		transport.Send(port, fwd)
	}
}

func (r *Registry) snapshotPorts() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ports := make([]uint16, 0, len(r.peers))
	for _, port := range r.peers {
		ports = append(ports, port)
	}
	return ports
}
