// Command tproxy is the transparent TCP proxy: it listens on a Linux
// IP_TRANSPARENT socket, recovers each connection's pre-redirect
// destination from its LocalAddr, and relays bytes to that destination
// over a dial that spoofs the original client's source address.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/h1skaak/g3goproxy/config"
	"github.com/h1skaak/g3goproxy/streamcopy"
	"github.com/h1skaak/g3goproxy/taskctx"
	"github.com/h1skaak/g3goproxy/tproxy"
	"github.com/h1skaak/g3goproxy/util/errorx"
	"github.com/h1skaak/g3goproxy/vnet/tcpfwd"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tproxy",
	Short: "transparent TCP proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "tproxy.yaml", "path to the YAML config file")
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
		return fmt.Errorf("tproxy: %w", err)
	}

	ln, err := tproxy.Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("tproxy: %w", err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	base := logrus.StandardLogger()
	copyCfg := streamcopy.Config{BufferSize: cfg.TCPCopyBufferSize, YieldSize: cfg.TCPCopyYieldSize}

	logrus.WithField("listen", cfg.Listen).Info("tproxy: accepting connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("tproxy: accept: %w", err)
			}
		}
		task := taskctx.New("tproxy", base)
		go serve(ctx, conn.(*net.TCPConn), copyCfg, cfg.TCPMiscOpts, task)
	}
}

// serve recovers conn's original destination, dials it back with the
// client's own source address spoofed, and relays bytes both ways.
func serve(ctx context.Context, conn *net.TCPConn, copyCfg streamcopy.Config, miscOpts config.TCPMiscOpts, task *taskctx.Context) {
	defer conn.Close()

	dst, err := tproxy.OriginalDestination(conn)
	if err != nil {
		task.Logger.WithError(err).Warn("tproxy: recover original destination failed")
		return
	}
	clientIP := conn.RemoteAddr().(*net.TCPAddr).IP

	task.Logger.WithFields(map[string]interface{}{
		"client": clientIP.String(),
		"dst":    dst.String(),
	}).Info("tproxy: relaying connection")

	dialer := tproxy.DialerForTransparentBind(clientIP, 0)
	upstream, err := dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		task.Logger.WithError(err).Warn("tproxy: dial original destination failed")
		return
	}
	defer upstream.Close()

	upstreamTCP, ok := upstream.(*net.TCPConn)
	if !ok {
		task.Logger.Warn("tproxy: dial did not return a TCP connection")
		return
	}

	if err := tcpfwd.TuneRelayPair(conn, upstreamTCP, miscOpts.NoDelay, miscOpts.KeepAliveSecs); err != nil {
		task.Logger.WithError(err).Debug("tproxy: tune relay socket options failed")
	}

	tcpfwd.Relay(
		tcpfwd.NewInstrumentedConn(task.ID+" client", conn),
		tcpfwd.NewInstrumentedConn(task.ID+" upstream", upstreamTCP),
		copyCfg,
	)
}
