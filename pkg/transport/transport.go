// Package transport owns the node's TCP listening and dialing: one packet
// per connection, non-blocking accept, and a 5-second connect timeout on
// outbound sends.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pouria-shahmiri/greychain/pkg/monitoring"
	"github.com/pouria-shahmiri/greychain/pkg/packet"
)

// ConnectTimeout bounds how long an outbound Send waits to establish a
// connection before giving up.
const ConnectTimeout = 5 * time.Second

// BasePort is the first port handed out by NextPort.
const BasePort = 6969

var nextPort uint32 = BasePort

// NextPort returns the next port in the process-wide monotonic counter,
// starting at 6969. Never recycled.
func NextPort() uint16 {
	return uint16(atomic.AddUint32(&nextPort, 1) - 1)
}

// packetsSent tracks total packets sent by this process, for observability.
var packetsSent uint64

// PacketsSent returns the running total of packets sent via Send.
func PacketsSent() uint64 {
	return atomic.LoadUint64(&packetsSent)
}

// ErrWouldBlock is returned by Accept when no connection arrived within
// the poll interval.
var ErrWouldBlock = errors.New("transport: accept would block")

// ErrInvalidSignature is returned by Receive when a packet's signature
// fails to verify; the caller logs and drops it.
var ErrInvalidSignature = errors.New("transport: invalid packet signature")

// Listener binds 127.0.0.1:port and accepts one packet per connection in
// non-blocking mode, so the owning goroutine can interleave other work
// between accept attempts.
type Listener struct {
	ln   *net.TCPListener
	port uint16
}

// Listen binds 127.0.0.1 on the next port from the process-wide counter.
// A bind failure is a programming fault and aborts the node.
func Listen() *Listener {
	port := NextPort()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		monitoring.Fatalf("transport: bind 127.0.0.1:%d: %v", port, err)
	}
	return &Listener{ln: ln, port: port}
}

// Port returns the port this listener is bound to.
func (l *Listener) Port() uint16 {
	return l.port
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept waits up to pollInterval for an inbound connection. On timeout it
// returns ErrWouldBlock so the caller's event loop can check its online
// flag and retry; accept never parks the receive loop for longer than
// one poll interval.
func (l *Listener) Accept(pollInterval time.Duration) (net.Conn, error) {
	if err := l.ln.SetDeadline(time.Now().Add(pollInterval)); err != nil {
		return nil, err
	}
	conn, err := l.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	return conn, nil
}

// Receive reads exactly one fixed-size packet off conn, decodes it, and
// verifies its signature. The connection is always closed before return.
func Receive(conn net.Conn) (*packet.Packet, error) {
	defer conn.Close()

	buf := make([]byte, packet.PkgSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("transport: read packet: %w", err)
	}

	pkt, err := packet.Deserialize(buf)
	if err != nil {
		return nil, fmt.Errorf("transport: decode packet: %w", err)
	}

	if !pkt.Verify() {
		return nil, ErrInvalidSignature
	}

	return pkt, nil
}

// Send dials 127.0.0.1:port with a 5-second connect timeout, writes
// exactly one packet, and closes the connection. Connect timeouts and
// refused connections are transient failures: logged and returned, with
// no retry; the broadcast paths ignore the returned error.
func Send(port uint16, pkt *packet.Packet) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		monitoring.Warnf("transport: could not connect to %s: %v", addr, err)
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(pkt.Serialize()); err != nil {
		monitoring.Warnf("transport: write to %s failed: %v", addr, err)
		return err
	}

	atomic.AddUint64(&packetsSent, 1)
	return nil
}
