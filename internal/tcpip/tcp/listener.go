package tcp

import (
	"context"

	"github.com/pkg/errors"

	"github.com/datawire/minitcp/internal/tcpip/packet"
	"github.com/datawire/minitcp/internal/tcpip/substrate"
)

// Listener binds a local port and waits for one inbound handshake, matching
// the original's TCP_LISTENER socket kind: a listener here is scoped to a
// single accepted connection, not a multiplexed accept loop.
type Listener struct {
	cfg       Options
	transport substrate.PacketConn
	local     uint16
	accepted  bool
}

// Listen binds port and returns a Listener ready to Accept exactly one
// connection. No address-reuse option is set on the socket (see
// substrate.ListenUDP).
func Listen(ctx context.Context, port uint16, opts Options) (*Listener, error) {
	opts = opts.resolve()
	pconn, err := substrate.ListenUDP(ctx, port)
	if err != nil {
		return nil, errors.Wrap(err, "tcp: listen")
	}
	return &Listener{cfg: opts, transport: pconn, local: port}, nil
}

// Accept blocks until a SYN arrives, answers it with a SYN+ACK, and returns
// the Conn with its engine started. The handshake completes in the engine
// once the initiator's ACK arrives, which may be after Accept returns. It
// may be called at most once per Listener.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if l.accepted {
		return nil, errors.New("tcp: listener already accepted its one connection")
	}

	buf := make([]byte, l.cfg.Config.MaxDatagram)
	for {
		n, addr, err := l.transport.ReadFrom(buf)
		if err != nil {
			return nil, errors.Wrap(err, "tcp: accept")
		}
		h, err := packet.Parse(buf[:n])
		if err != nil {
			continue
		}
		if !h.SYN() || h.ACK() {
			continue
		}

		l.accepted = true
		c := newConn(ctx, KindResponder, l.cfg.Config, l.cfg.Metrics, l.transport, addr, l.local, h.Source(), l.cfg.CongestionControl)
		c.handleHandshake(ctx, h)
		c.startEngine(ctx)
		return c, nil
	}
}

// Close releases the bound socket. If Accept was never called, no Conn
// owns the underlying transport and this is the only way to release it.
func (l *Listener) Close() error {
	return l.transport.Close()
}
