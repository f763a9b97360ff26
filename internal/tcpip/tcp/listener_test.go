package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// freeUDPPort asks the OS for an ephemeral UDP port and immediately frees it
// for Listen to rebind, the same trick net/http tests use to avoid
// hardcoding port numbers.
func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, conn.Close())
	return port
}

func TestDialListenAcceptOverRealUDP(t *testing.T) {
	ctx := testContext(t)
	port := freeUDPPort(t)

	ln, err := Listen(ctx, port, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	acceptedCh := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		require.NoError(t, err)
		acceptedCh <- c
	}()

	raddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(port)}
	initiator, err := Dial(ctx, raddr, port, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = initiator.Close() })

	var responder *Conn
	select {
	case responder = <-acceptedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Accept never returned")
	}
	t.Cleanup(func() {
		// Close returns only once the peer's FIN has arrived too, so both
		// ends have to be closing at the same time.
		go func() { _ = initiator.Close() }()
		_ = responder.Close()
	})

	waitForHandshake(t, initiator)
	waitForHandshake(t, responder)

	msg := []byte("over the wire")
	_, err = initiator.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	readAll(t, responder, got)
	require.Equal(t, msg, got)
}
