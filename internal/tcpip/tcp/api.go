package tcp

import (
	"context"
	"net"

	"github.com/datawire/dlib/dgroup"
	"github.com/pkg/errors"

	"github.com/datawire/minitcp/internal/config"
	"github.com/datawire/minitcp/internal/tcpip/seqnum"
	"github.com/datawire/minitcp/internal/tcpip/substrate"
	"github.com/datawire/minitcp/internal/tcpip/tcpmetrics"
)

// Options configures a Dial or Listen call. The zero value is a usable
// default: spec.md's literal constants and a RenoCC congestion controller.
type Options struct {
	Config            config.Config
	Metrics           *tcpmetrics.Metrics
	CongestionControl CongestionControl
}

func (o Options) resolve() Options {
	if o.Config == (config.Config{}) {
		o.Config = config.Default()
	}
	if o.Metrics == nil {
		o.Metrics = tcpmetrics.NewMetrics(nil)
	}
	if o.CongestionControl == nil {
		cc := NewRenoCC(o.Config.MSS())
		if n := o.Config.InitialSSThreshSegments; n > 0 {
			cc.ssthresh = n * o.Config.MSS()
		}
		o.CongestionControl = cc
	}
	return o
}

// Dial opens a connection to raddr as the handshake initiator, spec.md
// §4.3's "initiator binds an ephemeral local port". The returned Conn is
// not yet established: Write only enqueues bytes, which the engine starts
// sending once the three-way handshake completes, and a blocking Read waits
// until data has arrived.
func Dial(ctx context.Context, raddr *net.UDPAddr, remotePort uint16, opts Options) (*Conn, error) {
	opts = opts.resolve()
	pconn, peer, err := substrate.DialUDP(ctx, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "tcp: dial")
	}
	local := uint16(pconn.LocalAddr().(*net.UDPAddr).Port)
	c := newConn(ctx, KindInitiator, opts.Config, opts.Metrics, pconn, peer, local, remotePort, opts.CongestionControl)
	c.startEngine(ctx)
	return c, nil
}

// NewOverSubstrate builds and starts a Conn directly atop a caller-supplied
// substrate.PacketConn, bypassing DialUDP/ListenUDP. It exists for harnesses
// that want to run the engine over a simulated, lossy, or otherwise
// instrumented transport instead of a real UDP socket, the same role
// telepresence's integration_test fixtures play by swapping in fakes behind
// a production interface.
func NewOverSubstrate(ctx context.Context, kind Kind, transport substrate.PacketConn, peerAddr net.Addr, localPort, remotePort uint16, opts Options) *Conn {
	opts = opts.resolve()
	c := newConn(ctx, kind, opts.Config, opts.Metrics, transport, peerAddr, localPort, remotePort, opts.CongestionControl)
	c.startEngine(ctx)
	return c
}

// startEngine launches the background engine goroutine under a dgroup the
// way telepresence's connector/traffic-manager components run their
// long-lived workers, so a panic is converted to an error instead of
// crashing the process.
func (c *Conn) startEngine(ctx context.Context) {
	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: false})
	g.Go("minitcp-engine", func(ctx context.Context) error {
		c.run(ctx)
		return nil
	})
}

// Read copies up to len(p) already-received, in-order bytes into p. With
// mode ReadBlocking (the default), it blocks until at least one byte is
// available, or returns ErrClosed once the engine has exited with nothing
// left to deliver. With
// ReadNoWait, it returns immediately with whatever is already buffered,
// which may be zero bytes without that being an error.
func (c *Conn) Read(p []byte, mode ReadMode) (int, error) {
	if p == nil {
		return 0, ErrNilArgument
	}

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	for {
		avail := int(c.nextExpect-c.lastRead) - 1
		if avail > 0 {
			break
		}
		if mode == ReadNoWait {
			return 0, nil
		}
		if mode != ReadBlocking {
			return 0, ErrUnsupportedReadMode
		}
		select {
		case <-c.doneCh:
			if int(c.nextExpect-c.lastRead)-1 <= 0 {
				return 0, ErrClosed
			}
		default:
		}
		c.recvCond.Wait()
	}

	avail := int(c.nextExpect-c.lastRead) - 1
	n := minInt(avail, len(p))
	copy(p, c.receivedBuf[:n])
	c.receivedBuf = append(c.receivedBuf[:0], c.receivedBuf[n:]...)
	c.lastRead = c.lastRead.Add(seqnum.Size(n))
	return n, nil
}

// Write appends p to the outgoing buffer for the engine to drain. It fails
// with ErrClosed once Close has been called, matching ut_write's dying
// check under the send lock.
func (c *Conn) Write(p []byte) (int, error) {
	if p == nil {
		return 0, ErrNilArgument
	}
	if c.dying.Load() {
		return 0, ErrClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.dying.Load() {
		return 0, ErrClosed
	}
	c.sendingBuf = append(c.sendingBuf, p...)
	c.lastWrite = c.lastWrite.Add(seqnum.Size(len(p)))
	return len(p), nil
}

// Close marks the connection as dying so the engine sends a FIN once the
// send buffer drains, then blocks until the engine exits before releasing
// the substrate. The engine exits only after its own FIN has been
// acknowledged and the peer's FIN has arrived; there is no timeout, so
// Close does not return while the peer keeps its end open.
func (c *Conn) Close() error {
	c.closer.Do(func() {
		c.dying.Store(true)
		c.recvMu.Lock()
		c.recvCond.Broadcast()
		c.recvMu.Unlock()
		<-c.doneCh
		c.closeErr = c.closeInternal()
	})
	return c.closeErr
}

// LocalAddr reports the locally bound UDP endpoint.
func (c *Conn) LocalAddr() net.Addr { return c.transport.LocalAddr() }

// RemoteAddr reports the peer's UDP endpoint, once known.
func (c *Conn) RemoteAddr() net.Addr { return c.peerAddr }
