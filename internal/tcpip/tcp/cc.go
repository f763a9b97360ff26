package tcp

import "context"

// CongestionControl is the pluggable congestion-control algorithm a Conn
// delegates to. The default, RenoCC, implements the simplified Reno-style
// state machine from spec.md §4.9: slow start, congestion avoidance, and
// fast recovery on three duplicate ACKs. Callers may supply an alternative
// implementation via Options.CongestionControl without altering the wire
// protocol or any invariant in spec.md §8 — this only changes how quickly
// the sender grows or shrinks its window.
type CongestionControl interface {
	// Window returns the current congestion window, in bytes.
	Window() int

	// DupAckCount returns the current duplicate-ACK counter, saturating at 3.
	DupAckCount() int

	// OnNewACK is invoked when a cumulative ACK advances the send window.
	OnNewACK(ctx context.Context)

	// OnDupACK is invoked for each duplicate ACK. It reports true exactly
	// once, the moment the duplicate-ACK counter reaches 3 (fast retransmit).
	OnDupACK(ctx context.Context) (fastRetransmit bool)

	// OnTimeout is invoked on a retransmission timeout (Go-Back-N trigger).
	OnTimeout(ctx context.Context)
}

// RenoCC is the default CongestionControl, grounded on spec.md §4.7/§4.9 and
// original_source/src/backend.c's handle_ack/recv_pkts timeout branch.
type RenoCC struct {
	mss         int
	congWin     int
	ssthresh    int
	dupAckCount int
}

// NewRenoCC builds a RenoCC with the spec's initial congestion window
// (one MSS) and initial slow-start threshold (64 MSS).
func NewRenoCC(mss int) *RenoCC {
	return &RenoCC{mss: mss, congWin: mss, ssthresh: 64 * mss}
}

func (r *RenoCC) Window() int      { return r.congWin }
func (r *RenoCC) DupAckCount() int { return r.dupAckCount }

func (r *RenoCC) OnNewACK(_ context.Context) {
	r.dupAckCount = 0
	if r.congWin > r.ssthresh {
		// Congestion avoidance: approximate +1 MSS per RTT via integer math.
		r.congWin += r.mss * (r.mss / r.congWin)
	} else {
		// Slow start.
		r.congWin += r.mss
	}
}

func (r *RenoCC) OnDupACK(_ context.Context) bool {
	if r.dupAckCount == 3 {
		// Already in fast recovery: inflate by one MSS per further dup ACK.
		r.congWin += r.mss
		return false
	}
	r.dupAckCount++
	r.congWin += r.mss
	if r.dupAckCount == 3 {
		r.ssthresh = r.congWin / 2
		r.congWin = r.ssthresh + 3*r.mss
		return true
	}
	return false
}

func (r *RenoCC) OnTimeout(_ context.Context) {
	r.dupAckCount = 0
	ssthresh := r.congWin / 2
	if ssthresh < r.mss {
		ssthresh = r.mss
	}
	r.ssthresh = ssthresh
	r.congWin = r.mss
}
