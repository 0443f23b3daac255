//go:build linux

package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// DialerForTransparentBind builds a *net.Dialer that spoofs bindIP (the
// original client's address) as its own source address when connecting
// to the recovered original destination, so the upstream sees the real
// client IP rather than the proxy's. mark is applied via SO_MARK so
// policy routing can steer the reply path back through TPROXY instead
// of looping the spoofed-source packet back into the transparent
// listener.
func DialerForTransparentBind(bindIP net.IP, mark int) *net.Dialer {
	var sa unix.Sockaddr
	if ip4 := bindIP.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: 0}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: 0}
		copy(sa6.Addr[:], bindIP.To16())
		sa = sa6
	}

	return &net.Dialer{
		ControlContext: func(_ context.Context, _, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TRANSPARENT, 1); ctrlErr != nil {
					ctrlErr = fmt.Errorf("set IP_TRANSPARENT: %w", ctrlErr)
					return
				}
				if mark != 0 {
					if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark); ctrlErr != nil {
						ctrlErr = fmt.Errorf("set SO_MARK: %w", ctrlErr)
						return
					}
				}
				// a failed bind leaves the dial using the proxy's own
				// address as source rather than the client's; that
				// degrades to non-transparent behavior instead of
				// failing the connection outright.
				_ = unix.Bind(int(fd), sa)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
}
