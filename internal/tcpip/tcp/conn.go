// Package tcp implements a reliable byte-stream transport over the
// best-effort datagram substrate in internal/tcpip/substrate. It is the
// Go-native counterpart of the UTCS-TCP course backend: a three-way
// handshake, Go-Back-N retransmission with cumulative ACKs, a sliding
// send/receive window with flow control, and a simplified Reno congestion
// controller, all driven by one goroutine per connection in the style of
// telepresence's pkg/vif/tcp.handler.
package tcp

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/datawire/minitcp/internal/config"
	"github.com/datawire/minitcp/internal/tcpip/packet"
	"github.com/datawire/minitcp/internal/tcpip/seqnum"
	"github.com/datawire/minitcp/internal/tcpip/substrate"
	"github.com/datawire/minitcp/internal/tcpip/tcpmetrics"
)

// Kind distinguishes which side of the handshake a Conn plays.
type Kind int

const (
	// KindInitiator dials out and sends the first SYN.
	KindInitiator Kind = iota
	// KindResponder accepted an inbound SYN and replies with SYN+ACK.
	KindResponder
)

// Sentinel errors, satisfying errors.Is through github.com/pkg/errors wrapping.
var (
	ErrClosed              = errors.New("tcp: connection closed")
	ErrNilArgument         = errors.New("tcp: nil argument")
	ErrNegativeLength      = errors.New("tcp: negative length")
	ErrUnsupportedReadMode = errors.New("tcp: unsupported read mode")
)

// ReadMode selects whether Read blocks for at least one byte (ReadBlocking,
// the default) or returns immediately with whatever is already buffered
// (ReadNoWait), matching spec.md §4.3's NO_FLAG / NO_WAIT distinction.
type ReadMode int

const (
	ReadBlocking ReadMode = iota
	ReadNoWait
)

// Conn is one end of a reliable stream connection. All exported methods are
// safe for concurrent use; internally, sendMu guards the send window and
// outgoing buffer, recvMu (with recvCond) guards the receive window and
// incoming buffer, and every other mutable field belongs solely to the
// engine goroutine and is never touched from Read/Write/Close.
type Conn struct {
	kind      Kind
	cfg       config.Config
	metrics   *tcpmetrics.Metrics
	logCtx    context.Context
	transport substrate.PacketConn
	peerAddr  net.Addr
	local     uint16
	peer      uint16

	// Send window: shared between the engine and Write.
	sendMu     sync.Mutex
	lastAck    seqnum.Value
	lastSent   seqnum.Value
	lastWrite  seqnum.Value
	sendingBuf []byte

	// Receive window: shared between the engine and Read.
	recvMu      sync.Mutex
	recvCond    *sync.Cond
	lastRead    seqnum.Value
	nextExpect  seqnum.Value
	lastRecv    seqnum.Value
	receivedBuf []byte

	// Engine-owned state: mutated exclusively by the single run() goroutine.
	cc           CongestionControl
	sendAdvWin   uint32
	completeInit bool
	sendSyn      bool
	recvFin      bool
	finAcked     bool
	sendFinSeq   seqnum.Value
	recvFinSeq   seqnum.Value

	dying  atomic.Bool
	doneCh chan struct{}
	closer sync.Once
	closeErr error
}

func newConn(ctx context.Context, kind Kind, cfg config.Config, metrics *tcpmetrics.Metrics, transport substrate.PacketConn, peerAddr net.Addr, local, peer uint16, cc CongestionControl) *Conn {
	initial := seqnum.Value(rand.Intn(10000))
	c := &Conn{
		kind:      kind,
		cfg:       cfg,
		metrics:   metrics,
		logCtx:    ctx,
		transport: transport,
		peerAddr:  peerAddr,
		local:     local,
		peer:      peer,

		lastAck:   initial,
		lastSent:  initial,
		lastWrite: initial.Add(1),

		lastRead:   0,
		nextExpect: 1,
		lastRecv:   0,

		cc:         cc,
		sendAdvWin: 1,
		sendSyn:    kind == KindInitiator,
		doneCh:     make(chan struct{}),
	}
	c.recvCond = sync.NewCond(&c.recvMu)
	return c
}

// handlePeerAddr latches the peer address the first time a datagram arrives
// from it, the way a connected-UDP listener learns its peer on first packet.
func (c *Conn) handlePeerAddr(addr net.Addr) {
	if c.peerAddr == nil {
		c.peerAddr = addr
	}
}

func (c *Conn) writeDatagram(ctx context.Context, h packet.Header) {
	addr := c.peerAddr
	if addr == nil {
		return
	}
	if _, err := c.transport.WriteTo(h, addr); err != nil {
		dlog.Debugf(ctx, "minitcp: write datagram: %v", err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// closeInternal is invoked once the engine goroutine has exited. It closes
// the transport and returns that close error, if any, wrapped in a
// multierror, following the idiom telepresence uses for teardown paths.
func (c *Conn) closeInternal() error {
	var result *multierror.Error
	if err := c.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
