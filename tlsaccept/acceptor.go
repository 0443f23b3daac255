package tlsaccept

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// unrecognizedAlertCacheSize bounds how many distinct unrecognized
// server names are remembered for de-duplicating warnings; sized the
// same as domainproxy's certificate LRU, since both exist to avoid
// repeating the same per-connection log line under load.
const unrecognizedAlertCacheSize = 256

// unrecognizedAlertSuppress is how long a given unrecognized server
// name is suppressed from re-alerting after the first warning.
const unrecognizedAlertSuppress = time.Minute

// ErrClientHelloTooLarge is returned from Read once a connection's
// raw ClientHello bytes exceed Config.ClientHelloMaxSize.
var ErrClientHelloTooLarge = errors.New("tlsaccept: client hello exceeds size bound")

// Config carries the acceptor-facing subset of the listener's config,
// named after the YAML keys they come from (SPEC_FULL.md §6).
type Config struct {
	ClientHelloRecvTimeout time.Duration
	ClientHelloMaxSize     int
	AcceptTimeout          time.Duration
	AlertUnrecognizedName  bool
}

// Acceptor wraps a raw net.Listener, presenting TLS connections whose
// certificate is chosen per-SNI by hosts and whose ClientHello read is
// bounded in both time and size before the rest of the handshake is
// allowed to read further.
type Acceptor struct {
	inner     net.Listener
	hosts     *HostMatch
	baseTLS   *tls.Config
	cfg       Config
	alertSeen *lru.Cache[string, time.Time]
}

// NewAcceptor builds an Acceptor. baseTLS supplies the non-certificate
// TLS settings (e.g. MinVersion, a *Ticketer-managed session ticket
// config); its Certificates and GetCertificate/GetConfigForClient
// fields are overwritten per accepted connection.
func NewAcceptor(inner net.Listener, hosts *HostMatch, baseTLS *tls.Config, cfg Config) (*Acceptor, error) {
	if hosts.Empty() {
		return nil, errors.New("tlsaccept: no virtual hosts configured")
	}
	alertSeen, err := lru.New[string, time.Time](unrecognizedAlertCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tlsaccept: build alert cache: %w", err)
	}
	return &Acceptor{
		inner:     inner,
		hosts:     hosts,
		baseTLS:   baseTLS.Clone(),
		cfg:       cfg,
		alertSeen: alertSeen,
	}, nil
}

// Accept implements net.Listener, returning a *tls.Conn whose
// handshake has not yet run (it runs lazily on first Read/Write, or
// eagerly via (*tls.Conn).Handshake, exactly as for any tls.Server).
func (a *Acceptor) Accept() (net.Conn, error) {
	raw, err := a.inner.Accept()
	if err != nil {
		return nil, err
	}

	if a.cfg.AcceptTimeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(a.cfg.AcceptTimeout)); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tlsaccept: set accept deadline: %w", err)
		}
	}
	if a.cfg.ClientHelloRecvTimeout > 0 {
		if err := raw.SetReadDeadline(time.Now().Add(a.cfg.ClientHelloRecvTimeout)); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tlsaccept: set client hello deadline: %w", err)
		}
	}

	bc := newBoundedHandshakeConn(raw, a.cfg.ClientHelloMaxSize)
	cfg := a.baseTLS.Clone()
	cfg.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		return a.certConfigForClient(bc, hello)
	}

	return tls.Server(bc, cfg), nil
}

// certConfigForClient resolves hello.ServerName to a Host and returns
// the per-connection tls.Config presenting its certificate. Split out
// of Accept so host-matching and the client-hello-bound handoff can be
// exercised without a real listener.
func (a *Acceptor) certConfigForClient(bc *boundedHandshakeConn, hello *tls.ClientHelloInfo) (*tls.Config, error) {
	bc.liftBound(a.cfg.AcceptTimeout)

	host, matched := a.hosts.Match(hello.ServerName)
	if host == nil {
		return nil, fmt.Errorf("tlsaccept: no certificate for server name %q", hello.ServerName)
	}
	if !matched {
		a.maybeAlertUnrecognized(hello.ServerName)
	}

	sub := a.baseTLS.Clone()
	sub.Certificates = []tls.Certificate{*host.Certificate}
	return sub, nil
}

// maybeAlertUnrecognized logs once per unrecognized server name per
// unrecognizedAlertSuppress window, when AlertUnrecognizedName is set;
// mirrors tls_controller.go's connCount-gated import-prompt, adapted
// from "alert at most N times" to "alert at most once per window".
func (a *Acceptor) maybeAlertUnrecognized(serverName string) {
	if !a.cfg.AlertUnrecognizedName {
		return
	}
	if last, ok := a.alertSeen.Get(serverName); ok && time.Since(last) < unrecognizedAlertSuppress {
		return
	}
	a.alertSeen.Add(serverName, time.Now())
	logrus.WithField("server_name", serverName).Warn("tlsaccept: client requested unrecognized server name, falling back to default host")
}

func (a *Acceptor) Close() error   { return a.inner.Close() }
func (a *Acceptor) Addr() net.Addr { return a.inner.Addr() }

// boundedHandshakeConn enforces Config.ClientHelloMaxSize on bytes
// read before the certificate for this connection has been chosen,
// then lifts the bound (but not the deadline itself, which is reset
// to AcceptTimeout) once GetConfigForClient has fired.
type boundedHandshakeConn struct {
	net.Conn
	maxSize int

	mu      sync.Mutex
	read    int
	bounded bool
}

func newBoundedHandshakeConn(c net.Conn, maxSize int) *boundedHandshakeConn {
	return &boundedHandshakeConn{Conn: c, maxSize: maxSize, bounded: true}
}

func (c *boundedHandshakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	bounded := c.bounded
	c.mu.Unlock()

	if bounded && c.maxSize > 0 {
		remaining := c.maxSize - c.read
		if remaining <= 0 {
			return 0, ErrClientHelloTooLarge
		}
		if len(p) > remaining {
			p = p[:remaining]
		}
	}

	n, err := c.Conn.Read(p)
	if bounded && n > 0 {
		c.mu.Lock()
		c.read += n
		c.mu.Unlock()
	}
	return n, err
}

func (c *boundedHandshakeConn) liftBound(acceptTimeout time.Duration) {
	c.mu.Lock()
	c.bounded = false
	c.mu.Unlock()
	if acceptTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(acceptTimeout))
	}
}
