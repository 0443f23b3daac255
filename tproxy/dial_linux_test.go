//go:build linux

package tproxy

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// TestDialerForTransparentBindSetsIPTransparent only asserts the dial
// socket carries IP_TRANSPARENT; binding to a loopback address the
// kernel already owns always succeeds even without CAP_NET_ADMIN, but
// setting the option itself does not, so that failure is a skip rather
// than a test failure.
func TestDialerForTransparentBindSetsIPTransparent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	dialer := DialerForTransparentBind(net.ParseIP("127.0.0.1"), 0)
	conn, err := dialer.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EPERM) {
			t.Skipf("IP_TRANSPARENT requires CAP_NET_ADMIN, not available here: %v", err)
		}
		t.Fatalf("DialContext: %v", err)
	}
	defer conn.Close()
	<-done
}
