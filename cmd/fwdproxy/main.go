// Command fwdproxy is the forward TCP/UDP proxy: it accepts a client's
// HTTP CONNECT request, dials the requested host through the configured
// escaper (direct, SOCKS5, or an upstream HTTP(S) proxy), and relays
// bytes in both directions until either side closes. When configured,
// it additionally runs a fixed-destination UDP relay on a second
// listener.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/h1skaak/g3goproxy/config"
	"github.com/h1skaak/g3goproxy/proxydial"
	"github.com/h1skaak/g3goproxy/streamcopy"
	"github.com/h1skaak/g3goproxy/taskctx"
	"github.com/h1skaak/g3goproxy/udprelay"
	"github.com/h1skaak/g3goproxy/util/errorx"
	"github.com/h1skaak/g3goproxy/vnet/tcpfwd"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fwdproxy",
	Short: "forward TCP/UDP proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "fwdproxy.yaml", "path to the YAML config file")
}

func main() {
	defer errorx.RecoverCLI(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errorx.CheckCLI(rootCmd.ExecuteContext(ctx))
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("fwdproxy: %w", err)
	}

	dialCfg, err := proxydial.ParseEscaper(cfg.Escaper)
	if err != nil {
		return fmt.Errorf("fwdproxy: %w", err)
	}
	dialer, err := proxydial.NewManager(dialCfg)
	if err != nil {
		return fmt.Errorf("fwdproxy: build dialer: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("fwdproxy: listen %s: %w", cfg.Listen, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	if cfg.UDPListen != "" && cfg.UDPUpstream != "" {
		go func() {
			if err := runUDPRelay(ctx, cfg); err != nil {
				logrus.WithError(err).Error("fwdproxy: udp relay exited")
			}
		}()
	}

	base := logrus.StandardLogger()
	copyCfg := streamcopy.Config{BufferSize: cfg.TCPCopyBufferSize, YieldSize: cfg.TCPCopyYieldSize}

	logrus.WithField("listen", cfg.Listen).Info("fwdproxy: accepting connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("fwdproxy: accept: %w", err)
			}
		}
		task := taskctx.New("fwdproxy", base)
		go serve(ctx, conn.(*net.TCPConn), dialer, copyCfg, cfg.TCPMiscOpts, task)
	}
}

// serve reads exactly one CONNECT request off conn, dials the requested
// target through dialer, and relays bytes both ways once the tunnel is
// established. A request with a method other than CONNECT is rejected
// with a 400; a request that fails to parse closes the connection with
// no reply. This mode never serves plain (non-tunneled) HTTP requests
// itself.
func serve(ctx context.Context, conn *net.TCPConn, dialer *proxydial.Manager, copyCfg streamcopy.Config, miscOpts config.TCPMiscOpts, task *taskctx.Context) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		task.Logger.WithError(err).Debug("fwdproxy: read request failed")
		return
	}
	if req.Method != http.MethodConnect {
		task.Logger.WithField("method", req.Method).Debug("fwdproxy: non-CONNECT request rejected")
		fmt.Fprintf(conn, "HTTP/1.1 400 Bad Request\r\n\r\n")
		return
	}

	task.Logger.WithField("target", req.Host).Info("fwdproxy: tunnel requested")

	upstream, err := dialer.DialContext(ctx, req.Host)
	if err != nil {
		task.Logger.WithError(err).Warn("fwdproxy: dial upstream failed")
		fmt.Fprintf(conn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstream.Close()

	if _, err := fmt.Fprintf(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		task.Logger.WithError(err).Debug("fwdproxy: write CONNECT reply failed")
		return
	}

	upstreamTCP, ok := upstream.(*net.TCPConn)
	if !ok {
		// a proxied dial (SOCKS5/HTTP CONNECT) already terminates at a
		// TCP socket one layer down; unwrap is not available through
		// the plain net.Conn interface, so fall back to a plain
		// bidirectional copy without half-close coordination.
		runPlainRelay(conn, upstream, copyCfg)
		return
	}

	if err := tcpfwd.TuneRelayPair(conn, upstreamTCP, miscOpts.NoDelay, miscOpts.KeepAliveSecs); err != nil {
		task.Logger.WithError(err).Debug("fwdproxy: tune relay socket options failed")
	}

	tcpfwd.Relay(
		tcpfwd.NewInstrumentedConn(task.ID+" client", conn),
		tcpfwd.NewInstrumentedConn(task.ID+" upstream", upstreamTCP),
		copyCfg,
	)
}

func runPlainRelay(client net.Conn, upstream net.Conn, cfg streamcopy.Config) {
	done := make(chan struct{}, 2)
	go func() {
		streamcopy.New(upstream, client, cfg).Run()
		done <- struct{}{}
	}()
	go func() {
		streamcopy.New(client, upstream, cfg).Run()
		done <- struct{}{}
	}()
	<-done
	<-done
}

// runUDPRelay forwards every datagram received on cfg.UDPListen to the
// single fixed destination cfg.UDPUpstream, the simplest UDP forward
// mode: each client source address gets its own upstream socket to that
// one destination, with no SOCKS5 UDP-associate routing.
func runUDPRelay(ctx context.Context, cfg *config.Config) error {
	addr, err := net.ResolveUDPAddr("udp", cfg.UDPListen)
	if err != nil {
		return fmt.Errorf("resolve udp listen %s: %w", cfg.UDPListen, err)
	}
	var v4, v6 *net.UDPAddr
	if addr.IP.To4() != nil {
		v4 = addr
	} else {
		v6 = addr
	}

	endpoint, err := udprelay.Bind(v4, v6)
	if err != nil {
		return fmt.Errorf("bind udp listen %s: %w", cfg.UDPListen, err)
	}

	dial := func(from *net.UDPAddr) (net.Conn, error) {
		return net.Dial("udp", cfg.UDPUpstream)
	}
	relay := udprelay.NewRelay(endpoint, dial, 0)

	logrus.WithFields(logrus.Fields{"listen": cfg.UDPListen, "upstream": cfg.UDPUpstream}).Info("fwdproxy: udp relay running")
	return relay.Run(ctx)
}
