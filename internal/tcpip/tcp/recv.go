package tcp

import (
	"context"

	"github.com/datawire/minitcp/internal/tcpip/packet"
	"github.com/datawire/minitcp/internal/tcpip/seqnum"
)

// dispatch routes one inbound, validated segment to the appropriate handler,
// spec.md §4.8 / original_source's handle_pkt. Locks are acquired inside
// each handler; dispatch itself never holds a lock across a call into
// another handler. The data-send step is the one place that nests them: it
// takes recvMu briefly while holding sendMu.
func (c *Conn) dispatch(ctx context.Context, h packet.Header) {
	if !c.completeInit {
		c.handleHandshake(ctx, h)
		return
	}

	c.sendAdvWin = uint32(h.AdvertisedWindow())

	switch {
	case h.FIN():
		c.recvMu.Lock()
		c.recvFin = true
		c.recvFinSeq = h.Sequence()
		if h.Sequence() == c.nextExpect {
			c.nextExpect = c.nextExpect.Add(1)
		}
		c.recvMu.Unlock()
		c.sendEmpty(ctx, packet.FlagACK, false, false)

	case h.ACK():
		c.sendMu.Lock()
		finPending := c.dying.Load() && !c.finAcked && h.Ack() == c.sendFinSeq.Add(1)
		c.sendMu.Unlock()
		if finPending {
			c.finAcked = true
			return
		}
		c.handleACK(ctx, h)

	default:
		c.updateReceiveBuffer(ctx, h)
	}
}

// handleACK is the ACK-processing step, spec.md §4.9 / original_source's
// handle_ack, including the deliberately non-textbook detail that the
// congestion window inflates on every duplicate ACK, not only once fast
// retransmit fires on the third.
func (c *Conn) handleACK(ctx context.Context, h packet.Header) {
	a := h.Ack() - 1

	c.sendMu.Lock()
	switch {
	case seqnum.After(a, c.lastAck):
		acked := int(a - c.lastAck)
		c.lastAck = a
		c.cc.OnNewACK(ctx)
		if acked > 0 && acked <= len(c.sendingBuf) {
			rest := make([]byte, len(c.sendingBuf)-acked)
			copy(rest, c.sendingBuf[acked:])
			c.sendingBuf = rest
		}
		window := c.cc.Window()
		c.sendMu.Unlock()
		c.metrics.CongestionWindow.Set(float64(window))
		c.sendData(ctx)

	case a == c.lastAck:
		fastRetransmit := c.cc.OnDupACK(ctx)
		if fastRetransmit {
			c.lastSent = c.lastAck
		}
		window := c.cc.Window()
		c.sendMu.Unlock()
		c.metrics.DuplicateACKs.Inc()
		c.metrics.CongestionWindow.Set(float64(window))
		if fastRetransmit {
			c.metrics.FastRetransmits.Inc()
			c.sendDataImpl(ctx, true)
		}

	default:
		// Stale ACK for already-acknowledged data: ignore.
		c.sendMu.Unlock()
	}
}

// updateReceiveBuffer is the receive-buffer update step, spec.md §4.10 /
// original_source's update_received_buf: splice the segment's payload into
// received_buf at its sequence-relative offset, extend last_recv if this
// segment reaches further than anything seen before, and ACK immediately
// when the segment was the one we were waiting for.
func (c *Conn) updateReceiveBuffer(ctx context.Context, h packet.Header) {
	payload := h.Payload()
	if len(payload) == 0 {
		return
	}
	seq := h.Sequence()

	c.recvMu.Lock()
	offset := int(seq - c.lastRead - 1)
	if offset >= 0 && offset+len(payload) <= c.cfg.MaxNetworkBuffer {
		needed := offset + len(payload)
		if needed > len(c.receivedBuf) {
			grown := make([]byte, needed)
			copy(grown, c.receivedBuf)
			c.receivedBuf = grown
		}
		copy(c.receivedBuf[offset:], payload)

		if newLastRecv := seq.Add(seqnum.Size(len(payload) - 1)); seqnum.After(newLastRecv, c.lastRecv) {
			c.lastRecv = newLastRecv
		}
	}
	inOrder := seq == c.nextExpect
	if inOrder {
		c.nextExpect = c.nextExpect.Add(seqnum.Size(len(payload)))
	}
	c.recvMu.Unlock()

	if inOrder {
		c.sendEmpty(ctx, packet.FlagACK, false, false)
	}
}
