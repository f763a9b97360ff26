package tcp

import (
	"context"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/minitcp/internal/tcpip/packet"
)

// run is the background engine: one goroutine per connection driving the
// handshake, data transfer, and teardown state machine described in
// spec.md §4.4, grounded on telepresence's pkg/vif/tcp.handler run loop and
// original_source/src/backend.c's begin_backend.
func (c *Conn) run(ctx context.Context) {
	defer func() {
		close(c.doneCh)
		// Wake any Read blocked on recvCond: once the engine is gone,
		// nothing else will ever signal it again.
		c.recvMu.Lock()
		c.recvCond.Broadcast()
		c.recvMu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			dlog.Errorf(ctx, "minitcp: engine panic: %+v", derror.PanicToError(r))
		}
	}()

	timeout := time.Duration(c.cfg.RetransmitTimeoutMillis) * time.Millisecond
	buf := make([]byte, c.cfg.MaxDatagram)

	for {
		if c.checkDying() && !c.finAcked {
			c.sendEmpty(ctx, packet.FlagFIN, false, true)
		}
		if c.finAcked && c.recvFin {
			// Wait one retransmission timeout before tearing down. Nothing
			// is received or ACKed during this wait.
			time.Sleep(timeout)
			return
		}

		c.sendPhase(ctx)
		c.receivePhase(ctx, buf, timeout)
		c.signalIfDataAvailable()
	}
}

// checkDying reports whether the connection is draining toward close: the
// caller requested it and every previously written byte has been
// acknowledged. It latches send_fin_seq exactly once that becomes true.
func (c *Conn) checkDying() bool {
	if !c.dying.Load() {
		return false
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if len(c.sendingBuf) == 0 {
		c.sendFinSeq = c.lastWrite.Add(1)
		return true
	}
	return false
}

// sendPhase is the engine's per-cycle send step, spec.md §4.4 step 2.
func (c *Conn) sendPhase(ctx context.Context) {
	if !c.completeInit {
		c.sendHandshake(ctx)
		return
	}
	if n := c.cc.DupAckCount(); n > 0 && n < 3 {
		// Holding pattern while duplicate ACKs accumulate toward fast
		// retransmit: resending now would just race the real recovery.
		return
	}
	c.sendData(ctx)
}

// receivePhase is the engine's per-cycle receive step, spec.md §4.4 step 3:
// block on the substrate for up to timeout, and either dispatch a valid
// segment or treat the deadline as a retransmission timeout.
func (c *Conn) receivePhase(ctx context.Context, buf []byte, timeout time.Duration) {
	if err := c.transport.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		dlog.Debugf(ctx, "minitcp: set read deadline: %v", err)
	}
	n, addr, err := c.transport.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			c.onTimeout(ctx)
			return
		}
		dlog.Debugf(ctx, "minitcp: read datagram: %v", err)
		return
	}

	h, err := packet.Parse(buf[:n])
	if err != nil {
		dlog.Tracef(ctx, "minitcp: dropping unparseable datagram from %s: %v", addr, err)
		return
	}
	c.handlePeerAddr(addr)
	c.dispatch(ctx, h)
}

// signalIfDataAvailable wakes any Read call waiting for bytes to arrive,
// spec.md §4.4 step 4.
func (c *Conn) signalIfDataAvailable() {
	c.recvMu.Lock()
	avail := int(c.nextExpect-c.lastRead) - 1
	c.recvMu.Unlock()
	if avail > 0 {
		c.recvCond.Signal()
	}
}
