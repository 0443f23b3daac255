//go:build linux

package tproxy

import (
	"net"
	"testing"
)

func TestEnableRecvOrigDstSucceedsOnOrdinarySocket(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	if err := EnableRecvOrigDst(conn); err != nil {
		t.Fatalf("EnableRecvOrigDst: %v", err)
	}
}

// TestRecvFromOrigDstReportsLocalAddrForDirectDatagram sends a plain,
// non-redirected datagram to a socket with EnableRecvOrigDst armed.
// The kernel attaches IP_ORIGDSTADDR to every datagram on such a
// socket, so a direct datagram reports the socket's own address as its
// destination rather than a decode failure or a hang.
func TestRecvFromOrigDstReportsLocalAddrForDirectDatagram(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	if err := EnableRecvOrigDst(conn); err != nil {
		t.Fatalf("EnableRecvOrigDst: %v", err)
	}

	client, err := net.Dial("udp4", conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 64)
	n, src, dst, err := RecvFromOrigDst(conn, buf)
	if err != nil {
		t.Fatalf("RecvFromOrigDst: %v", err)
	}
	if n != 4 || string(buf[:n]) != "ping" {
		t.Fatalf("payload = %q (n=%d), want %q", buf[:n], n, "ping")
	}
	if src == nil {
		t.Fatalf("expected a non-nil source address")
	}
	if dst == nil || dst.String() != conn.LocalAddr().String() {
		t.Fatalf("dst = %v, want the socket's own address %v", dst, conn.LocalAddr())
	}
}
