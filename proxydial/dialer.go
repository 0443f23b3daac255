// Package proxydial selects the upstream dialer used by the forward
// proxy mode: direct connection, SOCKS5, or HTTP CONNECT, with a
// per-host bypass list, mirroring the teacher's port-based dialer
// selection (port 80/443 get their own dialer slot; any other port
// falls back to the "all" dialer).
package proxydial

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/h1skaak/g3goproxy/syncx"
)

func init() {
	proxy.RegisterDialerType("http", newHTTPProxy)
	proxy.RegisterDialerType("https", newHTTPProxy)
}

// Config describes a static upstream proxy configuration: at most one of
// SOCKS5 or HTTP(S) should be set. A nil/zero Config means direct-dial
// everything.
type Config struct {
	// SOCKS5Addr, if non-empty, routes all traffic (any port) through a
	// SOCKS5 proxy at this host:port.
	SOCKS5Addr     string
	SOCKS5User     string
	SOCKS5Password string

	// HTTPProxyURL, if set, is used for port-80 (plain HTTP CONNECT)
	// traffic only.
	HTTPProxyURL *url.URL
	// HTTPSProxyURL, if set, is used for port-443 traffic only; other
	// ports are never routed through it.
	HTTPSProxyURL *url.URL

	// BypassHosts is a comma-separated exception list in PerHost.AddFromString syntax.
	BypassHosts string
}

// ErrInvalidScheme is returned when a proxy URL's scheme isn't one this
// package knows how to dial through.
var ErrInvalidScheme = errors.New("proxydial: invalid proxy scheme")

// Manager resolves, for each outbound dial, which dialer (if any)
// should be used.
type Manager struct {
	mu            syncx.Mutex
	dialerAll     proxy.ContextDialer
	dialerHTTP    proxy.ContextDialer
	dialerHTTPS   proxy.ContextDialer
	perHostFilter *PerHost
}

// NewManager builds a Manager from a static Config. Unlike the teacher's
// ProxyManager, this never polls host OS proxy settings — configuration
// is supplied once at daemon startup from the config package.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{}

	m.perHostFilter = NewPerHost()
	if cfg.BypassHosts != "" {
		m.perHostFilter.AddFromString(cfg.BypassHosts)
	}

	if cfg.SOCKS5Addr != "" {
		var auth *proxy.Auth
		if cfg.SOCKS5User != "" {
			auth = &proxy.Auth{User: cfg.SOCKS5User, Password: cfg.SOCKS5Password}
		}
		d, err := proxy.SOCKS5("tcp", cfg.SOCKS5Addr, auth, nil)
		if err != nil {
			return nil, fmt.Errorf("proxydial: create socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("proxydial: socks5 dialer does not support context")
		}
		m.dialerAll = cd
		m.dialerHTTP = cd
		m.dialerHTTPS = cd
		m.perHostFilter.AddHost(hostOf(cfg.SOCKS5Addr))
		return m, nil
	}

	if cfg.HTTPSProxyURL != nil {
		d, err := proxy.FromURL(cfg.HTTPSProxyURL, nil)
		if err != nil {
			return nil, fmt.Errorf("proxydial: create https proxy dialer: %w", err)
		}
		m.dialerHTTPS = d.(proxy.ContextDialer)
		m.perHostFilter.AddHost(hostOf(cfg.HTTPSProxyURL.Host))
	}
	if cfg.HTTPProxyURL != nil {
		d, err := proxy.FromURL(cfg.HTTPProxyURL, nil)
		if err != nil {
			return nil, fmt.Errorf("proxydial: create http proxy dialer: %w", err)
		}
		m.dialerHTTP = d.(proxy.ContextDialer)
		m.perHostFilter.AddHost(hostOf(cfg.HTTPProxyURL.Host))
	}

	return m, nil
}

// ErrViaProxy wraps a dial error encountered while connecting through an
// upstream proxy, distinguishing it from a direct-dial failure.
type ErrViaProxy struct{ Err error }

func (e *ErrViaProxy) Error() string { return fmt.Sprintf("proxydial: via proxy: %v", e.Err) }
func (e *ErrViaProxy) Unwrap() error { return e.Err }

// DialContext dials addr (host:port), selecting a dialer by destination
// port (80 -> HTTP dialer, 443 -> HTTPS dialer, otherwise the
// SOCKS5-style "all" dialer), honoring the per-host bypass list.
func (m *Manager) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)

	m.mu.Lock()
	var dialer proxy.ContextDialer
	switch port {
	case 80:
		dialer = m.dialerHTTP
	case 443:
		dialer = m.dialerHTTPS
	default:
		dialer = m.dialerAll
	}
	bypass := m.perHostFilter != nil && dialer != nil && m.perHostFilter.TestBypass(host)
	m.mu.Unlock()

	if bypass {
		logrus.WithField("host", host).Debug("proxydial: bypassing upstream proxy")
		dialer = nil
	}

	if dialer == nil {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ErrViaProxy{Err: err}
	}
	return conn, nil
}
