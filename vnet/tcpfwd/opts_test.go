package tcpfwd

import (
	"net"
	"testing"
)

func dialedPair(t *testing.T) (client, server *net.TCPConn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- nil
			return
		}
		done <- c.(*net.TCPConn)
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	server = <-done
	if server == nil {
		t.Fatal("accept failed")
	}
	return c.(*net.TCPConn), server
}

func TestTuneRelayPairForceNoDelay(t *testing.T) {
	t.Parallel()

	c1, c2 := dialedPair(t)
	defer c1.Close()
	defer c2.Close()

	if err := TuneRelayPair(c1, c2, true, 0); err != nil {
		t.Fatalf("TuneRelayPair: %v", err)
	}
}

func TestTuneRelayPairAppliesKeepAlive(t *testing.T) {
	t.Parallel()

	c1, c2 := dialedPair(t)
	defer c1.Close()
	defer c2.Close()

	if err := TuneRelayPair(c1, c2, false, 30); err != nil {
		t.Fatalf("TuneRelayPair: %v", err)
	}
}

func TestSetExtNodelayLowLatencyPort(t *testing.T) {
	t.Parallel()

	c1, c2 := dialedPair(t)
	defer c1.Close()
	defer c2.Close()

	// otherPort 22 (SSH) should force NoDelay on regardless of the
	// actual ephemeral remote port of the loopback pair.
	if err := setExtNodelay(c1, 22); err != nil {
		t.Fatalf("setExtNodelay: %v", err)
	}
}
