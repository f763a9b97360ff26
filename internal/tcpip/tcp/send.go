package tcp

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/minitcp/internal/tcpip/packet"
	"github.com/datawire/minitcp/internal/tcpip/seqnum"
)

// sendData is the data-send step, spec.md §4.6 / original_source's
// send_pkts_data. It transmits as many segments as the congestion and flow
// control windows allow, and falls back to a single-byte zero-window probe
// when the peer's advertised window is exhausted.
//
// available is computed once, before the loop, and decremented as segments
// go out rather than recomputed against the updated send window on every
// iteration — this mirrors the original backend's behavior. Unlike the
// original, available is a signed int: the original's unsigned arithmetic
// could underflow to a huge positive value and silently skip the
// zero-window branch, which would never terminate this loop since last_sent
// does not advance on a probe. Using a signed comparison makes the
// zero-window branch reachable exactly when the window is exhausted, and it
// always returns after one probe rather than spinning.
func (c *Conn) sendData(ctx context.Context) {
	c.sendDataImpl(ctx, false)
}

func (c *Conn) sendDataImpl(ctx context.Context, retransmit bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	available := minInt(c.cc.Window(), int(c.sendAdvWin)) - int(c.lastSent-c.lastAck)

	for {
		unacked := int(c.lastWrite - c.lastAck)
		if unacked <= 0 || unacked > c.cfg.MaxNetworkBuffer {
			return
		}

		offset := int(c.lastSent - c.lastAck)
		if available > 0 {
			payloadLen := minInt(available, c.cfg.MSS())
			if remaining := len(c.sendingBuf) - offset; payloadLen > remaining {
				payloadLen = remaining
			}
			if payloadLen <= 0 {
				return
			}
			payload := c.sendingBuf[offset : offset+payloadLen]
			c.transmitDataLocked(ctx, c.lastSent.Add(1), payload)
			c.lastSent = c.lastSent.Add(seqnum.Size(payloadLen))
			available -= payloadLen
			c.metrics.BytesSent.Add(float64(payloadLen))
			if retransmit {
				c.metrics.BytesRetransmitted.Add(float64(payloadLen))
			}
			continue
		}

		// Zero window: probe with the one byte the peer hasn't acked yet,
		// without advancing last_sent, then stop until it next opens up.
		if offset < len(c.sendingBuf) {
			c.transmitDataLocked(ctx, c.lastSent.Add(1), c.sendingBuf[offset:offset+1])
		}
		return
	}
}

func (c *Conn) transmitDataLocked(ctx context.Context, seq seqnum.Value, payload []byte) {
	c.recvMu.Lock()
	ack := c.nextExpect
	advWindow := c.advertisedWindowLocked()
	c.recvMu.Unlock()

	h, err := packet.Build(c.local, c.peer, seq, ack, packet.HeaderLen, packet.HeaderLen+uint16(len(payload)), 0, advWindow, payload)
	if err != nil {
		dlog.Errorf(ctx, "minitcp: build data segment: %v", err)
		return
	}
	c.writeDatagram(ctx, h)
}

// onTimeout is the retransmission-timeout handler, spec.md §4.7: collapse
// back to slow start and Go-Back-N-retransmit every unacknowledged byte.
func (c *Conn) onTimeout(ctx context.Context) {
	c.sendMu.Lock()
	c.cc.OnTimeout(ctx)
	c.lastSent = c.lastAck
	c.sendMu.Unlock()

	c.metrics.RetransmitTimeouts.Inc()
	c.sendDataImpl(ctx, true)
}
