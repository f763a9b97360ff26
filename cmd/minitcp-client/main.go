// Command minitcp-client dials a minitcp-server, sends a file (or stdin)
// and prints back whatever the server echoes, matching the demo flow in
// original_source/src/client.c: write the payload, retrying short writes,
// then drain the reply.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/datawire/minitcp/internal/config"
	"github.com/datawire/minitcp/internal/tcpip/tcp"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type clientFlags struct {
	host string
	port uint16
	file string
}

func newRootCommand() *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "minitcp-client",
		Short: "Send a file (or stdin) to a minitcp-server and print its reply",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.host, "host", "127.0.0.1", "server host")
	cmd.Flags().Uint16Var(&flags.port, "port", 9000, "server UDP port")
	cmd.Flags().StringVar(&flags.file, "file", "", "file to send; defaults to stdin")
	return cmd
}

func runClient(ctx context.Context, flags *clientFlags) error {
	ctx = dlog.WithField(ctx, "component", "minitcp-client")

	var payload []byte
	var err error
	if flags.file != "" {
		payload, err = os.ReadFile(flags.file)
	} else {
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return errors.Wrap(err, "read payload")
	}

	cfg := config.Default()
	raddr := &net.UDPAddr{IP: net.ParseIP(flags.host), Port: int(flags.port)}
	conn, err := tcp.Dial(ctx, raddr, flags.port, tcp.Options{Config: cfg})
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	dlog.Infof(ctx, "sending %d bytes to %s", len(payload), raddr)
	if err := writeAll(conn, payload); err != nil {
		return errors.Wrap(err, "write")
	}

	reply, err := readAll(conn, len(payload))
	if err != nil {
		return errors.Wrap(err, "read reply")
	}

	if !bytes.Equal(reply, payload) {
		dlog.Warnf(ctx, "echoed reply differs from what was sent")
	}
	_, err = os.Stdout.Write(reply)
	return err
}

// writeAll retries a short write, the way original_source/src/client.c
// loops on ut_write until every byte has gone out.
func writeAll(conn *tcp.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func readAll(conn *tcp.Conn, n int) ([]byte, error) {
	out := make([]byte, n)
	got := 0
	for got < n {
		m, err := conn.Read(out[got:], tcp.ReadBlocking)
		if err != nil {
			return nil, err
		}
		got += m
	}
	return out, nil
}
