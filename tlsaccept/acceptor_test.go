package tlsaccept

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
)

func TestBoundedHandshakeConnEnforcesSizeBound(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		io.WriteString(client, "0123456789")
	}()

	bc := newBoundedHandshakeConn(server, 5)
	buf := make([]byte, 16)

	n, err := bc.Read(buf)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if n != 5 {
		t.Fatalf("first read n = %d, want capped at 5", n)
	}

	_, err = bc.Read(buf)
	if !errors.Is(err, ErrClientHelloTooLarge) {
		t.Fatalf("second read err = %v, want ErrClientHelloTooLarge", err)
	}
}

func TestBoundedHandshakeConnLiftBoundAllowsFurtherReads(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		io.WriteString(client, "01234567890123456789")
	}()

	bc := newBoundedHandshakeConn(server, 5)
	buf := make([]byte, 5)
	if _, err := bc.Read(buf); err != nil {
		t.Fatalf("bounded read: %v", err)
	}

	bc.liftBound(0)

	total := 0
	for total < 15 {
		n, err := bc.Read(buf)
		if err != nil {
			t.Fatalf("post-lift read: %v", err)
		}
		total += n
	}
}

func TestAcceptorCertConfigForClientSelectsHostBySNI(t *testing.T) {
	exactCert, exactKey := writeSelfSignedPair(t, "a.example.com")
	defCert, defKey := writeSelfSignedPair(t, "default.example.com")

	hm, err := NewHostMatch([]VirtualHost{
		{Name: "a.example.com", CertFile: exactCert, KeyFile: exactKey},
		{Name: "*", CertFile: defCert, KeyFile: defKey},
	})
	if err != nil {
		t.Fatalf("NewHostMatch: %v", err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	a, err := NewAcceptor(fakeListener{}, hm, &tls.Config{MinVersion: tls.VersionTLS12}, Config{
		ClientHelloMaxSize: 1 << 16,
	})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}

	bc := newBoundedHandshakeConn(server, a.cfg.ClientHelloMaxSize)

	cfg, err := a.certConfigForClient(bc, &tls.ClientHelloInfo{ServerName: "a.example.com"})
	if err != nil {
		t.Fatalf("certConfigForClient: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected exactly one certificate installed")
	}
	wantCert := loadPair(t, exactCert, exactKey)
	if string(cfg.Certificates[0].Certificate[0]) != string(wantCert.Certificate[0]) {
		t.Fatalf("certConfigForClient did not select the exact-match host's certificate")
	}

	bc.mu.Lock()
	bounded := bc.bounded
	bc.mu.Unlock()
	if bounded {
		t.Fatalf("certConfigForClient should have lifted the client-hello bound")
	}
}

func TestAcceptorCertConfigForClientFallsBackToDefaultAndAlerts(t *testing.T) {
	defCert, defKey := writeSelfSignedPair(t, "default.example.com")
	hm, err := NewHostMatch([]VirtualHost{
		{Name: "*", CertFile: defCert, KeyFile: defKey},
	})
	if err != nil {
		t.Fatalf("NewHostMatch: %v", err)
	}

	server, _ := net.Pipe()
	defer server.Close()

	a, err := NewAcceptor(fakeListener{}, hm, &tls.Config{}, Config{AlertUnrecognizedName: true})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	bc := newBoundedHandshakeConn(server, 0)

	cfg, err := a.certConfigForClient(bc, &tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	if err != nil {
		t.Fatalf("certConfigForClient: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected default certificate installed for unmatched name")
	}

	if _, ok := a.alertSeen.Get("unknown.example.com"); !ok {
		t.Fatalf("expected unrecognized name to be recorded in the alert cache")
	}
}

func TestAcceptorCertConfigForClientNoMatchNoDefaultErrors(t *testing.T) {
	exactCert, exactKey := writeSelfSignedPair(t, "a.example.com")
	hm, err := NewHostMatch([]VirtualHost{
		{Name: "a.example.com", CertFile: exactCert, KeyFile: exactKey},
	})
	if err != nil {
		t.Fatalf("NewHostMatch: %v", err)
	}

	server, _ := net.Pipe()
	defer server.Close()

	a, err := NewAcceptor(fakeListener{}, hm, &tls.Config{}, Config{})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	bc := newBoundedHandshakeConn(server, 0)

	if _, err := a.certConfigForClient(bc, &tls.ClientHelloInfo{ServerName: "nowhere.example.com"}); err == nil {
		t.Fatalf("expected error when no host and no default match")
	}
}

func TestNewAcceptorRejectsEmptyHostMatch(t *testing.T) {
	hm, err := NewHostMatch(nil)
	if err != nil {
		t.Fatalf("NewHostMatch: %v", err)
	}
	if _, err := NewAcceptor(fakeListener{}, hm, &tls.Config{}, Config{}); err == nil {
		t.Fatalf("expected NewAcceptor to reject an empty HostMatch")
	}
}

// fakeListener satisfies net.Listener for tests that only exercise
// certConfigForClient directly and never call Accept.
type fakeListener struct{}

func (fakeListener) Accept() (net.Conn, error) { return nil, io.EOF }
func (fakeListener) Close() error              { return nil }
func (fakeListener) Addr() net.Addr            { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:0" }
