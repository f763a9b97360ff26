// Command minitcp-server accepts one inbound minitcp connection, echoes
// everything it reads back to the sender, and exits once the peer closes.
// It is the Go-native counterpart of original_source/src/server.c and
// tests/testing_server.c, structured the way telepresence's single-purpose
// cmd/ binaries (e.g. cmd/watt) wrap one cobra command around one run func.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dhttp"
	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/datawire/minitcp/internal/config"
	"github.com/datawire/minitcp/internal/tcpip/tcp"
	"github.com/datawire/minitcp/internal/tcpip/tcpmetrics"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serverFlags struct {
	port        uint16
	metricsAddr string
}

func newRootCommand() *cobra.Command {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "minitcp-server",
		Short: "Accept one minitcp connection and echo what it sends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), flags)
		},
	}
	cmd.Flags().Uint16Var(&flags.port, "port", 9000, "UDP port to listen on")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (host:port)")
	return cmd
}

func runServer(ctx context.Context, flags *serverFlags) error {
	ctx = dlog.WithField(ctx, "component", "minitcp-server")

	cfg, err := config.FromEnviron(ctx)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if flags.metricsAddr != "" {
		reg = prometheus.NewRegistry()
	}
	metrics := tcpmetrics.NewMetrics(reg)

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})

	if reg != nil {
		grp.Go("metrics", func(ctx context.Context) error {
			sc := &dhttp.ServerConfig{Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
			return sc.ListenAndServe(ctx, flags.metricsAddr)
		})
	}

	grp.Go("accept", func(ctx context.Context) error {
		ln, err := tcp.Listen(ctx, flags.port, tcp.Options{Config: cfg, Metrics: metrics})
		if err != nil {
			return err
		}
		defer ln.Close()

		dlog.Infof(ctx, "listening on UDP port %d", flags.port)
		conn, err := ln.Accept(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		dlog.Infof(ctx, "accepted connection from %s", conn.RemoteAddr())
		return echoLoop(ctx, conn)
	})

	return grp.Wait()
}

// echoLoop reads whatever arrives and writes it straight back, the way
// tests/testing_server.c's receive-then-retransmit loop exercises the
// full read/write path end to end.
func echoLoop(ctx context.Context, conn *tcp.Conn) error {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf, tcp.ReadBlocking)
		if err != nil {
			if errors.Is(err, tcp.ErrClosed) {
				dlog.Infof(ctx, "peer closed the connection")
				return nil
			}
			return err
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return err
		}
	}
}
