package packet

import (
	"fmt"

	"github.com/pouria-shahmiri/greychain/pkg/codec"
)

// Serialize renders p into a fresh PkgSize buffer in wire order: kind,
// content, sender, signature, is-forwarded flag.
func (p *Packet) Serialize() []byte {
	buf := make([]byte, PkgSize)
	n := codec.WriteUint8(buf, uint8(p.Kind))
	n += copy(buf[n:], p.Content[:])
	n += codec.WriteString(buf[n:], p.Sender)
	n += codec.WriteBytes(buf[n:], p.Signature)
	codec.WriteBool(buf[n:], p.IsForwarded)
	return buf
}

// Deserialize parses a PkgSize-byte wire buffer into a Packet. It does not
// verify the signature -- callers must call Verify() before trusting the
// result.
func Deserialize(buf []byte) (*Packet, error) {
	if len(buf) != PkgSize {
		return nil, fmt.Errorf("packet: wrong wire size: got %d want %d", len(buf), PkgSize)
	}

	p := &Packet{}
	n, kind := codec.ReadUint8(buf)
	p.Kind = Kind(kind)

	n += copy(p.Content[:], buf[n:n+FixedContentSize])

	m, sender := codec.ReadString(buf[n:])
	n += m
	p.Sender = sender

	m, sig := codec.ReadBytes(buf[n:])
	n += m
	p.Signature = sig

	_, forwarded := codec.ReadBool(buf[n:])
	p.IsForwarded = forwarded

	return p, nil
}
