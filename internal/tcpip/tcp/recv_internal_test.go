package tcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/minitcp/internal/config"
	"github.com/datawire/minitcp/internal/tcpip/packet"
	"github.com/datawire/minitcp/internal/tcpip/seqnum"
	"github.com/datawire/minitcp/internal/tcpip/tcpmetrics"
)

func newTestConn(t *testing.T) (*Conn, *captureConn) {
	t.Helper()
	cfg := config.Default()
	capConn := newCaptureConn()
	c := newConn(context.Background(), KindResponder, cfg, tcpmetrics.NewMetrics(nil), capConn, capConn.peer, 9000, 9001, NewRenoCC(cfg.MSS()))
	c.completeInit = true
	return c, capConn
}

func TestUpdateReceiveBufferInOrderAcksImmediately(t *testing.T) {
	c, capConn := newTestConn(t)
	c.lastRead = 100
	c.nextExpect = 101

	h, err := packet.Build(9001, 9000, 101, 1, packet.HeaderLen, packet.HeaderLen+5, 0, 1000, []byte("hello"))
	require.NoError(t, err)

	c.updateReceiveBuffer(context.Background(), h)

	c.recvMu.Lock()
	assert.Equal(t, seqnum.Value(106), c.nextExpect)
	assert.Equal(t, []byte("hello"), c.receivedBuf[:5])
	c.recvMu.Unlock()

	sent := capConn.lastSent()
	require.NotNil(t, sent)
	ack, err := packet.Parse(sent)
	require.NoError(t, err)
	assert.True(t, ack.ACK())
	assert.Equal(t, seqnum.Value(106), ack.Ack())
}

func TestUpdateReceiveBufferOutOfOrderDoesNotAdvance(t *testing.T) {
	c, capConn := newTestConn(t)
	c.lastRead = 100
	c.nextExpect = 101

	// Sequence 106 arrives before 101: out of order.
	h, err := packet.Build(9001, 9000, 106, 1, packet.HeaderLen, packet.HeaderLen+5, 0, 1000, []byte("world"))
	require.NoError(t, err)

	c.updateReceiveBuffer(context.Background(), h)

	c.recvMu.Lock()
	assert.Equal(t, seqnum.Value(101), c.nextExpect, "out-of-order segment must not advance next_expect")
	assert.Equal(t, []byte("world"), c.receivedBuf[5:10])
	c.recvMu.Unlock()

	assert.Nil(t, capConn.lastSent(), "out-of-order segment must not trigger an immediate ACK")
}

func TestHandleACKNewACKDropsAckedBytesAndGrowsWindow(t *testing.T) {
	c, _ := newTestConn(t)
	c.lastAck = 100
	c.lastSent = 150
	c.lastWrite = 200
	c.sendingBuf = []byte("0123456789")
	initialWindow := c.cc.Window()

	h, err := packet.Build(9001, 9000, 1, 106, packet.HeaderLen, packet.HeaderLen, packet.FlagACK, 1000, nil)
	require.NoError(t, err)

	c.handleACK(context.Background(), h)

	c.sendMu.Lock()
	assert.Equal(t, seqnum.Value(105), c.lastAck)
	assert.Equal(t, []byte("56789"), c.sendingBuf)
	c.sendMu.Unlock()
	assert.Equal(t, 0, c.cc.DupAckCount())
	assert.Greater(t, c.cc.Window(), initialWindow)
}

func TestHandleACKDuplicateTriggersFastRetransmitOnThird(t *testing.T) {
	c, _ := newTestConn(t)
	c.lastAck = 100
	c.lastSent = 200
	c.lastWrite = 200
	c.sendingBuf = make([]byte, 100)

	dupAck, err := packet.Build(9001, 9000, 1, 101, packet.HeaderLen, packet.HeaderLen, packet.FlagACK, 1000, nil)
	require.NoError(t, err)

	c.handleACK(context.Background(), dupAck)
	assert.Equal(t, 1, c.cc.DupAckCount())
	c.handleACK(context.Background(), dupAck)
	assert.Equal(t, 2, c.cc.DupAckCount())
	c.handleACK(context.Background(), dupAck)
	assert.Equal(t, 3, c.cc.DupAckCount())

	c.sendMu.Lock()
	// Fast retransmit rewinds last_sent to last_ack and resends from there;
	// the peer's advertised window is still the initial 1, so one byte goes out.
	assert.Equal(t, c.lastAck.Add(1), c.lastSent, "fast retransmit rewinds last_sent to last_ack, then resends one byte")
	c.sendMu.Unlock()
}

func TestHandleACKStaleACKIsIgnored(t *testing.T) {
	c, _ := newTestConn(t)
	c.lastAck = 200
	c.lastSent = 200
	c.lastWrite = 200

	stale, err := packet.Build(9001, 9000, 1, 150, packet.HeaderLen, packet.HeaderLen, packet.FlagACK, 1000, nil)
	require.NoError(t, err)

	c.handleACK(context.Background(), stale)

	c.sendMu.Lock()
	assert.Equal(t, seqnum.Value(200), c.lastAck)
	c.sendMu.Unlock()
	assert.Equal(t, 0, c.cc.DupAckCount())
}

func TestCheckDyingLatchesFinSeqOnlyWhenBufferDrained(t *testing.T) {
	c, _ := newTestConn(t)
	c.dying.Store(true)
	c.lastWrite = 500
	c.sendingBuf = []byte("pending")

	assert.False(t, c.checkDying(), "must not report dying while unsent data remains")

	c.sendingBuf = nil
	assert.True(t, c.checkDying())
	assert.Equal(t, seqnum.Value(501), c.sendFinSeq)
}

func TestCheckDyingFalseWhenNotDying(t *testing.T) {
	c, _ := newTestConn(t)
	assert.False(t, c.checkDying())
}
