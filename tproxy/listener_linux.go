//go:build linux

package tproxy

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen opens a TCP listener with IP_TRANSPARENT set, letting it
// accept connections whose destination is not one of this host's own
// addresses, generalized from netx.ListenTransparent to accept a
// context and either address family.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			if err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TRANSPARENT, 1)
			}); err != nil {
				return err
			}
			return setErr
		},
	}
	return lc.Listen(ctx, network, address)
}
