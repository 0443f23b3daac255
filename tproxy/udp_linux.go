//go:build linux

package tproxy

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrNoOrigDst is returned by RecvFromOrigDst when the kernel delivered
// a datagram with no IP(V6)_ORIGDSTADDR control message attached,
// meaning EnableRecvOrigDst was never called on conn. Once it is
// enabled the kernel attaches the message to every datagram, redirected
// or not; for a datagram that did not pass through TPROXY it carries
// the socket's own address.
var ErrNoOrigDst = errors.New("tproxy: no original destination control message")

const origDstOOBSize = 128

// EnableRecvOrigDst arms conn to attach the pre-redirect destination
// address of every future received datagram as ancillary data, the UDP
// counterpart of the per-socket LocalAddr recovery OriginalDestination
// gets for free on TCP: since one UDP socket serves every flow, the
// original destination has to travel as a control message instead of
// living on the socket itself.
func EnableRecvOrigDst(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var setErr error
	err = rawConn.Control(func(fd uintptr) {
		if setErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_RECVORIGDSTADDR, 1); setErr != nil {
			return
		}
		// IPv6 sockets created with net.ListenUDP("udp6", ...) also
		// accept IPPROTO_IPV6-level options; harmless no-op on a
		// v4-only socket where the kernel rejects it.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_RECVORIGDSTADDR, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

// RecvFromOrigDst reads one datagram from conn, returning both the
// client source address (from the normal recvmsg name) and the
// pre-redirect destination address (decoded from the IP_ORIGDSTADDR /
// IPV6_ORIGDSTADDR control message EnableRecvOrigDst asked the kernel
// to attach).
func RecvFromOrigDst(conn *net.UDPConn, buf []byte) (n int, src *net.UDPAddr, dst *net.UDPAddr, err error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, nil, nil, err
	}

	oob := make([]byte, origDstOOBSize)
	var (
		readN, oobN int
		from        unix.Sockaddr
		readErr     error
	)
	err = rawConn.Read(func(fd uintptr) bool {
		readN, oobN, _, from, readErr = unix.Recvmsg(int(fd), buf, oob, 0)
		return true
	})
	if err != nil {
		return 0, nil, nil, err
	}
	if readErr != nil {
		return 0, nil, nil, readErr
	}

	src = sockaddrToUDPAddr(from)

	msgs, err := unix.ParseSocketControlMessage(oob[:oobN])
	if err != nil {
		return readN, src, nil, fmt.Errorf("tproxy: parse control message: %w", err)
	}
	for _, m := range msgs {
		sa, err := unix.ParseOrigDstAddr(&m)
		if err != nil {
			continue
		}
		if dst = sockaddrToUDPAddr(sa); dst != nil {
			return readN, src, dst, nil
		}
	}
	return readN, src, nil, ErrNoOrigDst
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, sa.Addr[:])
		return &net.UDPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		return &net.UDPAddr{IP: ip, Port: sa.Port, Zone: zoneFromID(sa.ZoneId)}
	default:
		return nil
	}
}

func zoneFromID(id uint32) string {
	if id == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(id)); err == nil {
		return iface.Name
	}
	return ""
}
