// Package substrate defines the datagram collaborator contract that the
// minitcp transport is layered on, plus a production UDP adapter. It
// mirrors the way telepresence's own udp-echo test fixture and its
// vif/tcp handler treat the datagram layer as best-effort, order-less,
// and bounded by a fixed MTU.
package substrate

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// MaxDatagram is the largest datagram this substrate promises to deliver
// atomically, matching spec.md's MAX_LEN.
const MaxDatagram = 1400

// PacketConn is the collaborator contract spec.md §6 describes: best-effort,
// order-less, datagram-bounded delivery between two endpoints, with a
// blocking read bounded by a deadline.
type PacketConn interface {
	// ReadFrom blocks until a datagram arrives or the deadline set by
	// SetReadDeadline elapses, in which case it returns a timeout error
	// satisfying the net.Error Timeout() contract.
	ReadFrom(buf []byte) (n int, addr net.Addr, err error)

	// WriteTo sends buf as a single datagram to addr. Delivery is best
	// effort: it may be dropped, reordered, or duplicated in transit, but
	// never split by this interface.
	WriteTo(buf []byte, addr net.Addr) (n int, err error)

	// SetReadDeadline bounds the next ReadFrom call, matching the
	// original's poll(2)-with-timeout loop.
	SetReadDeadline(t time.Time) error

	LocalAddr() net.Addr
	Close() error
}

// DialUDP produces a PacketConn bound to an ephemeral local port, for use
// by an INITIATOR socket. The socket is not connected; it returns peer so
// the caller can address each datagram to it. Grounded
// on telepresence's integration_test udp-echo fixture's use of
// net.ListenPacket for the datagram side of a connection.
func DialUDP(ctx context.Context, peer *net.UDPAddr) (PacketConn, *net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "substrate: bind ephemeral UDP port")
	}
	return &udpConn{UDPConn: conn}, peer, nil
}

// ListenUDP binds to the requested port, matching spec.md §4.3's listener
// role. Unlike the original's setsockopt(SO_REUSEADDR, 1), the stdlib
// net.ListenUDP used here sets no reuse option; a port left in TIME_WAIT
// by a prior run must clear before a new listener can rebind it.
func ListenUDP(ctx context.Context, port uint16) (PacketConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, errors.Wrap(err, "substrate: bind listener UDP port")
	}
	return &udpConn{UDPConn: conn}, nil
}

type udpConn struct {
	*net.UDPConn
}

func (c *udpConn) ReadFrom(buf []byte) (int, net.Addr, error) {
	return c.UDPConn.ReadFrom(buf)
}

func (c *udpConn) WriteTo(buf []byte, addr net.Addr) (int, error) {
	return c.UDPConn.WriteTo(buf, addr)
}
