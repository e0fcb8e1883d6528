// Package codec implements the bit-exact byte encode/decode discipline
// every wire value in this node follows: each value exposes a Write that
// returns bytes written and a Read that returns bytes consumed plus the
// value. Primitives are little-endian host-width; nothing here allocates
// beyond its return value and nothing performs I/O.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/pouria-shahmiri/greychain/pkg/types"
)

// LengthPrefixSize is the width of every length prefix this codec writes
// (strings, byte blobs): an 8-byte unsigned length.
const LengthPrefixSize = 8

// NodesMax is the ceiling the peer list's 1-byte count prefix imposes.
// How many descriptors actually fit a packet's content window is a
// separate, smaller bound derived by the packet layer.
const NodesMax = 255

// WriteUint64 writes v little-endian into dst, returning 8.
func WriteUint64(dst []byte, v uint64) int {
	binary.LittleEndian.PutUint64(dst, v)
	return 8
}

// ReadUint64 reads a little-endian uint64 from src, returning (8, v).
func ReadUint64(src []byte) (int, uint64) {
	return 8, binary.LittleEndian.Uint64(src)
}

// WriteUint16 writes v little-endian into dst, returning 2.
func WriteUint16(dst []byte, v uint16) int {
	binary.LittleEndian.PutUint16(dst, v)
	return 2
}

// ReadUint16 reads a little-endian uint16 from src, returning (2, v).
func ReadUint16(src []byte) (int, uint16) {
	return 2, binary.LittleEndian.Uint16(src)
}

// WriteUint8 writes a single byte, returning 1.
func WriteUint8(dst []byte, v uint8) int {
	dst[0] = v
	return 1
}

// ReadUint8 reads a single byte, returning (1, v).
func ReadUint8(src []byte) (int, uint8) {
	return 1, src[0]
}

// WriteBool writes a single byte (0/1), returning 1.
func WriteBool(dst []byte, v bool) int {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
	return 1
}

// ReadBool reads a single byte as a bool, returning (1, v).
func ReadBool(src []byte) (int, bool) {
	return 1, src[0] != 0
}

// WriteFloat64 writes the IEEE-754 bits of v little-endian, returning 8.
func WriteFloat64(dst []byte, v float64) int {
	return WriteUint64(dst, math.Float64bits(v))
}

// ReadFloat64 reads an IEEE-754 float64, returning (8, v).
func ReadFloat64(src []byte) (int, float64) {
	n, bits := ReadUint64(src)
	return n, math.Float64frombits(bits)
}

// WriteString writes an 8-byte length prefix followed by the string's
// UTF-8 bytes, returning the total bytes written.
func WriteString(dst []byte, s string) int {
	n := WriteUint64(dst, uint64(len(s)))
	n += copy(dst[n:], s)
	return n
}

// ReadString reads a length-prefixed UTF-8 string, returning bytes
// consumed and the decoded string.
func ReadString(src []byte) (int, string) {
	n, length := ReadUint64(src)
	s := string(src[n : n+int(length)])
	return n + int(length), s
}

// WriteBytes writes an 8-byte length prefix followed by data, returning
// the total bytes written. Used for the packet signature.
func WriteBytes(dst []byte, data []byte) int {
	n := WriteUint64(dst, uint64(len(data)))
	n += copy(dst[n:], data)
	return n
}

// ReadBytes reads a length-prefixed byte blob, returning bytes consumed
// and the decoded slice (a fresh copy, never aliasing src).
func ReadBytes(src []byte) (int, []byte) {
	n, length := ReadUint64(src)
	out := make([]byte, length)
	copy(out, src[n:n+int(length)])
	return n + int(length), out
}

// WriteTransaction encodes a Transaction: id, amount, payer, payee.
func WriteTransaction(dst []byte, tx types.Transaction) int {
	n := WriteUint64(dst, tx.ID)
	n += WriteFloat64(dst[n:], tx.Amount)
	n += WriteString(dst[n:], tx.Payer)
	n += WriteString(dst[n:], tx.Payee)
	return n
}

// ReadTransaction decodes a Transaction, returning bytes consumed.
func ReadTransaction(src []byte) (int, types.Transaction) {
	var tx types.Transaction
	n, id := ReadUint64(src)
	tx.ID = id

	m, amount := ReadFloat64(src[n:])
	n += m
	tx.Amount = amount

	m, payer := ReadString(src[n:])
	n += m
	tx.Payer = payer

	m, payee := ReadString(src[n:])
	n += m
	tx.Payee = payee

	return n, tx
}

// WriteBlock encodes a Block in field-declaration order.
func WriteBlock(dst []byte, b types.Block) int {
	n := WriteUint64(dst, b.PrevHash)
	n += WriteUint64(dst[n:], b.Round)
	n += WriteUint64(dst[n:], b.Timestamp)
	n += WriteTransaction(dst[n:], b.Tx)
	n += WriteUint64(dst[n:], b.Nonce)
	n += WriteUint64(dst[n:], b.Solution)
	n += WriteUint64(dst[n:], b.Hash)
	return n
}

// ReadBlock decodes a Block, returning bytes consumed.
func ReadBlock(src []byte) (int, types.Block) {
	var b types.Block
	n, v := ReadUint64(src)
	b.PrevHash = v

	m, v := ReadUint64(src[n:])
	n += m
	b.Round = v

	m, v = ReadUint64(src[n:])
	n += m
	b.Timestamp = v

	m, tx := ReadTransaction(src[n:])
	n += m
	b.Tx = tx

	m, v = ReadUint64(src[n:])
	n += m
	b.Nonce = v

	m, v = ReadUint64(src[n:])
	n += m
	b.Solution = v

	m, v = ReadUint64(src[n:])
	n += m
	b.Hash = v

	return n, b
}

// WritePeerInfo encodes a peer descriptor: pubkey PEM, port, online flag.
func WritePeerInfo(dst []byte, p types.PeerInfo) int {
	n := WriteString(dst, p.PubKeyPEM)
	n += WriteUint16(dst[n:], p.Port)
	n += WriteBool(dst[n:], p.Online)
	return n
}

// ReadPeerInfo decodes a peer descriptor, returning bytes consumed.
func ReadPeerInfo(src []byte) (int, types.PeerInfo) {
	n, pem := ReadString(src)
	m, port := ReadUint16(src[n:])
	n += m
	m, online := ReadBool(src[n:])
	n += m
	return n, types.PeerInfo{PubKeyPEM: pem, Port: port, Online: online}
}

// WritePeerList encodes a peer descriptor array with a 1-byte count
// prefix. len(peers) must not exceed NodesMax.
func WritePeerList(dst []byte, peers []types.PeerInfo) int {
	n := WriteUint8(dst, uint8(len(peers)))
	for _, p := range peers {
		n += WritePeerInfo(dst[n:], p)
	}
	return n
}

// ReadPeerList decodes a peer descriptor array, returning bytes consumed.
func ReadPeerList(src []byte) (int, []types.PeerInfo) {
	n, count := ReadUint8(src)
	peers := make([]types.PeerInfo, count)
	for i := range peers {
		m, p := ReadPeerInfo(src[n:])
		n += m
		peers[i] = p
	}
	return n, peers
}
