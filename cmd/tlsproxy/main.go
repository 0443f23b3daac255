// Command tlsproxy is the TLS-terminating reverse proxy: it accepts
// connections on a plain TCP listener wrapped by tlsaccept.Acceptor,
// picks the certificate by SNI, and once the handshake completes
// relays the decrypted bytes to the virtual host's configured upstream.
package main

import (
	"context"
	"crypto/tls"
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
	"github.com/h1skaak/g3goproxy/tlsaccept"
	"github.com/h1skaak/g3goproxy/util/errorx"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tlsproxy",
	Short: "TLS-terminating reverse proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "tlsproxy.yaml", "path to the YAML config file")
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
		return fmt.Errorf("tlsproxy: %w", err)
	}
	if len(cfg.VirtualHosts) == 0 {
		return fmt.Errorf("tlsproxy: no virtual_hosts configured")
	}

	upstreams := make(map[string]string, len(cfg.VirtualHosts))
	hosts := make([]tlsaccept.VirtualHost, 0, len(cfg.VirtualHosts))
	for _, vh := range cfg.VirtualHosts {
		hosts = append(hosts, tlsaccept.VirtualHost{Name: vh.Name, CertFile: vh.CertFile, KeyFile: vh.KeyFile})
		upstreams[vh.Name] = vh.Upstream
	}

	hostMatch, err := tlsaccept.NewHostMatch(hosts)
	if err != nil {
		return fmt.Errorf("tlsproxy: %w", err)
	}

	baseTLS := &tls.Config{MinVersion: tls.VersionTLS12}
	ticketer := tlsaccept.NewTicketer(baseTLS, 0)
	ticketer.Start(ctx)

	inner, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("tlsproxy: listen %s: %w", cfg.Listen, err)
	}
	defer inner.Close()

	acceptor, err := tlsaccept.NewAcceptor(inner, hostMatch, baseTLS, tlsaccept.Config{
		ClientHelloRecvTimeout: cfg.ClientHelloRecvTimeout.Std(),
		ClientHelloMaxSize:     cfg.ClientHelloMaxSize,
		AcceptTimeout:          cfg.AcceptTimeout.Std(),
		AlertUnrecognizedName:  cfg.AlertUnrecognizedName,
	})
	if err != nil {
		return fmt.Errorf("tlsproxy: %w", err)
	}
	defer acceptor.Close()

	go func() {
		<-ctx.Done()
		acceptor.Close()
	}()

	base := logrus.StandardLogger()
	copyCfg := streamcopy.Config{BufferSize: cfg.TCPCopyBufferSize, YieldSize: cfg.TCPCopyYieldSize}

	logrus.WithField("listen", cfg.Listen).Info("tlsproxy: accepting connections")
	for {
		conn, err := acceptor.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("tlsproxy: accept: %w", err)
			}
		}
		task := taskctx.New("tlsproxy", base)
		go serve(ctx, conn.(*tls.Conn), upstreams, copyCfg, task)
	}
}

// serve completes the TLS handshake (so the negotiated ServerName is
// available), dials the matching virtual host's upstream, and relays
// bytes both ways until either side closes.
func serve(ctx context.Context, conn *tls.Conn, upstreams map[string]string, copyCfg streamcopy.Config, task *taskctx.Context) {
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		task.Logger.WithError(err).Debug("tlsproxy: handshake failed")
		return
	}

	serverName := conn.ConnectionState().ServerName
	upstreamAddr := upstreams[serverName]
	if upstreamAddr == "" {
		task.Logger.WithField("server_name", serverName).Warn("tlsproxy: no upstream configured for server name")
		return
	}

	task.Logger.WithFields(map[string]interface{}{
		"server_name": serverName,
		"upstream":    upstreamAddr,
	}).Info("tlsproxy: tunnel established")

	var d net.Dialer
	upstream, err := d.DialContext(ctx, "tcp", upstreamAddr)
	if err != nil {
		task.Logger.WithError(err).Warn("tlsproxy: dial upstream failed")
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		streamcopy.New(upstream, conn, copyCfg).Run()
		if tcpConn, ok := upstream.(*net.TCPConn); ok {
			tcpConn.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		streamcopy.New(conn, upstream, copyCfg).Run()
		done <- struct{}{}
	}()
	<-done
	<-done
}
