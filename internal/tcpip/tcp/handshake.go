package tcp

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/minitcp/internal/tcpip/packet"
)

// sendEmpty transmits a header-only (or FIN-only) segment: no data payload,
// just flags, sequence/ack numbers and the advertised window. Grounded on
// original_source/src/backend.c's send_empty.
func (c *Conn) sendEmpty(ctx context.Context, flags uint8, finAck bool, useFinSeq bool) {
	c.recvMu.Lock()
	ack := c.nextExpect
	if finAck {
		ack = ack.Add(1)
	}
	advWindow := c.advertisedWindowLocked()
	c.recvMu.Unlock()

	c.sendMu.Lock()
	seq := c.lastSent.Add(1)
	if useFinSeq {
		seq = c.sendFinSeq
	}
	c.sendMu.Unlock()

	h, err := packet.Build(c.local, c.peer, seq, ack, packet.HeaderLen, packet.HeaderLen, flags, advWindow, nil)
	if err != nil {
		dlog.Errorf(ctx, "minitcp: build empty segment: %v", err)
		return
	}
	c.writeDatagram(ctx, h)
}

// advertisedWindowLocked computes the receive window to advertise to the
// peer. Callers must hold recvMu. Matches spec.md's
// max(MSS, MAX_NETWORK_BUFFER - (last_recv - last_read)).
func (c *Conn) advertisedWindowLocked() uint16 {
	used := int(c.lastRecv - c.lastRead)
	w := maxInt(c.cfg.MSS(), c.cfg.MaxNetworkBuffer-used)
	if w > 0xFFFF {
		w = 0xFFFF
	}
	if w < 0 {
		w = 0
	}
	return uint16(w)
}

// sendHandshake emits the next handshake segment appropriate to this side's
// role and current progress, per spec.md §4.5.
func (c *Conn) sendHandshake(ctx context.Context) {
	switch c.kind {
	case KindInitiator:
		if c.sendSyn {
			c.sendEmpty(ctx, packet.FlagSYN, false, false)
			return
		}
		// sendSyn is cleared together with completeInit, so there is
		// nothing to send here: the ACK of the peer's SYN+ACK is sent
		// once, from handleHandshake, and is not repeated.
	case KindResponder:
		if !c.completeInit {
			c.sendEmpty(ctx, packet.FlagSYN|packet.FlagACK, false, false)
		}
	}
}

// handleHandshake processes an inbound segment while the handshake is still
// in progress, per spec.md §4.5 / original_source's handle_pkt_handshake.
func (c *Conn) handleHandshake(ctx context.Context, h packet.Header) {
	switch c.kind {
	case KindInitiator:
		if h.SYN() && h.ACK() {
			c.recvMu.Lock()
			c.nextExpect = h.Sequence().Add(1)
			c.lastRecv = h.Sequence()
			c.lastRead = h.Sequence()
			c.recvMu.Unlock()

			c.sendMu.Lock()
			c.lastAck = h.Ack() - 1
			c.sendMu.Unlock()

			c.sendSyn = false
			c.completeInit = true
			c.sendEmpty(ctx, packet.FlagACK, false, false)
		}
	case KindResponder:
		if h.SYN() && !h.ACK() {
			c.recvMu.Lock()
			c.nextExpect = h.Sequence().Add(1)
			c.lastRecv = h.Sequence()
			c.lastRead = h.Sequence()
			c.recvMu.Unlock()
			c.sendHandshake(ctx)
		} else if h.ACK() && !h.SYN() {
			c.sendMu.Lock()
			c.lastAck = h.Ack() - 1
			c.sendMu.Unlock()
			c.completeInit = true
		}
	}
}
