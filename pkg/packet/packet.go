// Package packet implements the typed, signed envelope that carries every
// value this node puts on the wire: a fixed-size content window signed by
// the sender's RSA key, tagged with a payload kind, and an is-forwarded
// flag used by the membership gossip protocol.
package packet

import (
	"fmt"

	"github.com/pouria-shahmiri/greychain/pkg/codec"
	"github.com/pouria-shahmiri/greychain/pkg/keys"
	"github.com/pouria-shahmiri/greychain/pkg/monitoring"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// Kind identifies which of the five payload schemas a packet's content
// holds.
type Kind uint8

const (
	KindTx Kind = iota
	KindStatus
	KindNodesRes
	KindBlock
	KindFork
)

func (k Kind) String() string {
	switch k {
	case KindTx:
		return "Tx"
	case KindStatus:
		return "Status"
	case KindNodesRes:
		return "NodesRes"
	case KindBlock:
		return "Block"
	case KindFork:
		return "Fork"
	default:
		return "Unknown"
	}
}

// FixedContentSize is the single global size of every packet's content
// window, large enough to hold any payload kind's worst case.
const FixedContentSize = 9000

// senderPEMSize and signatureSize are measured once at package init from a
// throwaway RSA keypair of the configured bit size: both values are pure
// functions of keys.Bits (a 2048-bit RSA modulus always serializes to the
// same SPKI/PEM length and always signs to a 256-byte PSS signature), so
// any keypair yields the true constant for every node in the network.
var (
	senderPEMSize int
	signatureSize int
	// PkgSize is the fixed total on-wire size of every packet.
	PkgSize int
	// MaxNodesPerRes is how many peer descriptors actually fit a NodesRes
	// content window: the codec's 1-byte count prefix allows up to
	// codec.NodesMax entries, but each entry carries a full PEM identity,
	// so the window runs out long before the prefix does. Derived at init
	// from the measured PEM size.
	MaxNodesPerRes int
)

func init() {
	kp, err := keys.Generate()
	if err != nil {
		panic(fmt.Sprintf("packet: could not measure fixed sizes: %v", err))
	}
	senderPEMSize = len(kp.PublicKeyPEM())
	sig, err := kp.Sign(make([]byte, FixedContentSize))
	if err != nil {
		panic(fmt.Sprintf("packet: could not measure signature size: %v", err))
	}
	signatureSize = len(sig)

	PkgSize = 1 + FixedContentSize + codec.LengthPrefixSize + senderPEMSize + codec.LengthPrefixSize + signatureSize + 1

	// A peer descriptor is a length-prefixed PEM string plus port plus
	// online flag. The PEM bound matches the sender field's own measured
	// size, since peer identities are PEM strings of the same RSA bit
	// size. A window too small for even one descriptor is a programming
	// fault: abort at start rather than silently truncating packets.
	worstPeer := codec.LengthPrefixSize + senderPEMSize + 2 + 1
	MaxNodesPerRes = (FixedContentSize - 1) / worstPeer
	if MaxNodesPerRes < 1 {
		panic(fmt.Sprintf("packet: FixedContentSize %d cannot hold a single peer descriptor (%d bytes)", FixedContentSize, worstPeer))
	}
	if MaxNodesPerRes > codec.NodesMax {
		MaxNodesPerRes = codec.NodesMax
	}
}

// Packet is the fixed-size signed envelope.
type Packet struct {
	Kind        Kind
	Content     [FixedContentSize]byte
	Sender      string
	Signature   []byte
	IsForwarded bool
}

// newPacket encodes payload into a zero-filled content buffer, signs the
// buffer with signer's key, and returns an unforwarded envelope.
func newPacket(kind Kind, encode func(dst []byte) int, signer *keys.KeyPair) (*Packet, error) {
	p := &Packet{Kind: kind, Sender: signer.PublicKeyPEM()}
	encode(p.Content[:])

	sig, err := signer.Sign(p.Content[:])
	if err != nil {
		return nil, fmt.Errorf("sign packet: %w", err)
	}
	p.Signature = sig
	p.IsForwarded = false
	return p, nil
}

// NewTx builds a Tx packet carrying tx, signed by signer (the payer).
func NewTx(tx types.Transaction, signer *keys.KeyPair) (*Packet, error) {
	return newPacket(KindTx, func(dst []byte) int { return codec.WriteTransaction(dst, tx) }, signer)
}

// NewStatus builds a Status packet announcing a peer's online/offline
// state.
func NewStatus(peer types.PeerInfo, signer *keys.KeyPair) (*Packet, error) {
	return newPacket(KindStatus, func(dst []byte) int { return codec.WritePeerInfo(dst, peer) }, signer)
}

// NewNodesRes builds a NodesRes packet enumerating peers, capped at
// MaxNodesPerRes so the encoded list cannot outgrow the content window.
func NewNodesRes(peers []types.PeerInfo, signer *keys.KeyPair) (*Packet, error) {
	if len(peers) > MaxNodesPerRes {
		return nil, fmt.Errorf("NodesRes: %d peers exceeds max %d", len(peers), MaxNodesPerRes)
	}
	return newPacket(KindNodesRes, func(dst []byte) int { return codec.WritePeerList(dst, peers) }, signer)
}

// NewBlock builds a Block packet.
func NewBlock(b types.Block, signer *keys.KeyPair) (*Packet, error) {
	return newPacket(KindBlock, func(dst []byte) int { return codec.WriteBlock(dst, b) }, signer)
}

// NewFork builds a Fork packet -- same schema as Block, different
// semantics at the receiver.
func NewFork(b types.Block, signer *keys.KeyPair) (*Packet, error) {
	return newPacket(KindFork, func(dst []byte) int { return codec.WriteBlock(dst, b) }, signer)
}

// DecodeTx decodes a Tx packet's content.
func DecodeTx(p *Packet) types.Transaction {
	_, tx := codec.ReadTransaction(p.Content[:])
	return tx
}

// DecodeStatus decodes a Status packet's content.
func DecodeStatus(p *Packet) types.PeerInfo {
	_, peer := codec.ReadPeerInfo(p.Content[:])
	return peer
}

// DecodeNodesRes decodes a NodesRes packet's content.
func DecodeNodesRes(p *Packet) []types.PeerInfo {
	_, peers := codec.ReadPeerList(p.Content[:])
	return peers
}

// DecodeBlock decodes a Block or Fork packet's content.
func DecodeBlock(p *Packet) types.Block {
	_, b := codec.ReadBlock(p.Content[:])
	return b
}

// Verify checks the packet's signature against its own sender PEM, over
// the full fixed-size content window including trailing zero padding.
func (p *Packet) Verify() bool {
	ok := keys.VerifyWithPEM(p.Sender, p.Content[:], p.Signature)
	if !ok {
		monitoring.Warnf("rejected packet from %s: signature verification failed", keys.FingerprintPEM(p.Sender))
	}
	return ok
}

// Forwarded returns a shallow copy of p with IsForwarded set, used by
// membership when re-broadcasting a Status packet.
func (p *Packet) Forwarded() *Packet {
	cp := *p
	cp.IsForwarded = true
	return &cp
}
