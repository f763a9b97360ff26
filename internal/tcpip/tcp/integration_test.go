package tcp

import (
	"context"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/minitcp/internal/config"
	"github.com/datawire/minitcp/internal/tcpip/substrate"
	"github.com/datawire/minitcp/internal/tcpip/tcpmetrics"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return dlog.NewTestContext(t, false)
}

// newLossyPair builds two Conns wired directly to each other through an
// in-memory, optionally lossy datagram substrate, bypassing the real UDP
// dial/listen path so tests run instantly and deterministically.
func newLossyPair(t *testing.T, opts substrate.LossOptions) (initiator, responder *Conn) {
	t.Helper()
	ctx := testContext(t)
	cfg := config.Default()
	cfg.RetransmitTimeoutMillis = 20

	connA, connB := substrate.LossyPair(opts)
	metrics := tcpmetrics.NewMetrics(nil)

	initiator = newConn(ctx, KindInitiator, cfg, metrics, connA, connB.LocalAddr(), 9000, 9001, NewRenoCC(cfg.MSS()))
	responder = newConn(ctx, KindResponder, cfg, metrics, connB, connA.LocalAddr(), 9001, 9000, NewRenoCC(cfg.MSS()))

	initiator.startEngine(ctx)
	responder.startEngine(ctx)

	t.Cleanup(func() {
		// Close returns only once the peer's FIN has arrived too, so both
		// ends have to be closing at the same time.
		go func() { _ = responder.Close() }()
		_ = initiator.Close()
		_ = responder.Close()
	})
	return initiator, responder
}

func waitForHandshake(t *testing.T, c *Conn) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
		return c.completeInit
	}, 2*time.Second, time.Millisecond)
}

func TestHandshakeCompletes(t *testing.T) {
	initiator, responder := newLossyPair(t, substrate.LossOptions{Seed: 1})
	waitForHandshake(t, initiator)
	waitForHandshake(t, responder)
}

func TestWriteThenReadDeliversBytes(t *testing.T) {
	initiator, responder := newLossyPair(t, substrate.LossOptions{Seed: 2})
	waitForHandshake(t, initiator)
	waitForHandshake(t, responder)

	msg := []byte("hello, reliable world")
	n, err := initiator.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	got := make([]byte, len(msg))
	readAll(t, responder, got)
	assert.Equal(t, msg, got)
}

func TestBulkTransferWithLoss(t *testing.T) {
	initiator, responder := newLossyPair(t, substrate.LossOptions{Seed: 3, DropFraction: 0.1})
	waitForHandshake(t, initiator)
	waitForHandshake(t, responder)

	payload := make([]byte, 20000)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := initiator.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	readAllWithin(t, responder, got, 15*time.Second)
	assert.Equal(t, payload, got)
}

func TestGracefulClose(t *testing.T) {
	initiator, responder := newLossyPair(t, substrate.LossOptions{Seed: 4})
	waitForHandshake(t, initiator)
	waitForHandshake(t, responder)

	msg := []byte("done")
	_, err := initiator.Write(msg)
	require.NoError(t, err)
	got := make([]byte, len(msg))
	readAll(t, responder, got)
	assert.Equal(t, msg, got)

	// The initiator's Close waits for the responder's FIN as well.
	go func() { _ = responder.Close() }()
	require.NoError(t, initiator.Close())

	_, err = initiator.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

// readAll blocks, issuing Read calls, until exactly len(buf) bytes have been
// copied into buf, failing the test if the default timeout has elapsed when a
// Read returns. A Read that never returns is not interrupted.
func readAll(t *testing.T, c *Conn, buf []byte) {
	t.Helper()
	readAllWithin(t, c, buf, 5*time.Second)
}

func readAllWithin(t *testing.T, c *Conn, buf []byte, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after reading %d/%d bytes", got, len(buf))
		}
		n, err := c.Read(buf[got:], ReadBlocking)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got += n
	}
}

func TestReadNoWaitReturnsImmediatelyWhenEmpty(t *testing.T) {
	initiator, responder := newLossyPair(t, substrate.LossOptions{Seed: 5})
	waitForHandshake(t, initiator)
	waitForHandshake(t, responder)

	buf := make([]byte, 10)
	n, err := responder.Read(buf, ReadNoWait)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
