package proxydial

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

const userAgent = "g3goproxy/1.0"

// httpProxy dials an upstream via HTTP(S) CONNECT, registered with
// golang.org/x/net/proxy under the "http"/"https" schemes so
// proxy.FromURL resolves it automatically.
type httpProxy struct {
	isTLS      bool
	host       string
	authHeader string
}

func newHTTPProxy(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	if forward != nil {
		return nil, errors.New("proxydial: http proxy does not support chaining")
	}

	p := &httpProxy{isTLS: u.Scheme == "https"}

	host := u.Host
	if u.Port() == "" {
		if p.isTLS {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}
	p.host = host

	if u.User != nil {
		p.authHeader = "Basic " + basicAuth(u.User)
	}

	return p, nil
}

func basicAuth(user *url.Userinfo) string {
	password, _ := user.Password()
	auth := user.Username() + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func (p *httpProxy) DialContext(ctx context.Context, network, addr string) (conn net.Conn, err error) {
	var d net.Dialer
	conn, err = d.DialContext(ctx, "tcp", p.host)
	if err != nil {
		return nil, err
	}
	tcpConn := conn.(*net.TCPConn)

	defer func() {
		if err != nil && conn != nil {
			conn.Close()
		}
	}()

	if p.isTLS {
		tlsHost, _, splitErr := net.SplitHostPort(p.host)
		if splitErr != nil {
			return conn, splitErr
		}

		tlsConn := tls.Client(conn, &tls.Config{ServerName: tlsHost})
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			return conn, err
		}
		conn = tlsConn
	}

	httpURL, err := url.Parse("http://" + addr)
	if err != nil {
		return
	}
	httpURL.Scheme = ""

	req, err := http.NewRequest("CONNECT", httpURL.String(), nil)
	if err != nil {
		return
	}
	req.Close = false
	if p.authHeader != "" {
		req.Header.Set("Proxy-Authorization", p.authHeader)
	}
	req.Header.Set("User-Agent", userAgent)

	if err = req.Write(conn); err != nil {
		err = fmt.Errorf("write CONNECT: %w", err)
		return
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		err = fmt.Errorf("read CONNECT: %w", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		err = fmt.Errorf("proxy CONNECT: %s", resp.Status)
		return
	}

	// the CONNECT handshake itself benefits from the default
	// TCP_NODELAY; only disable it afterward if the destination port
	// warrants it (set by the caller via setExtNodelay in tcpfwd).
	_ = tcpConn

	return conn, nil
}

func (p *httpProxy) Dial(network, addr string) (net.Conn, error) {
	return p.DialContext(context.Background(), network, addr)
}
