//go:build linux

package udprelay

import (
	"encoding/binary"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// batcher is the Linux fast path: recvmmsg/sendmmsg fill or drain
// multiple packets in one syscall, each carrying its own source/dest
// address via the per-message Msghdr.Name field, matching the scatter-
// gather batched receive/send used by the system this engine is
// modeled on.
type batcher struct {
	v4 *net.UDPConn
	v6 *net.UDPConn
}

func newBatcher(v4, v6 *net.UDPConn) batcher {
	return batcher{v4: v4, v6: v6}
}

func (b batcher) recv(e *Endpoint, packets []Packet) (int, error) {
	if b.v4 != nil {
		if n, err := recvBatch(b.v4, packets); n > 0 || err != nil {
			return n, err
		}
	}
	if b.v6 != nil {
		return recvBatch(b.v6, packets)
	}
	return 0, ErrNoListenSocket
}

func (b batcher) send(e *Endpoint, packets []Packet) (int, error) {
	v4Packets := make([]Packet, 0, len(packets))
	v6Packets := make([]Packet, 0, len(packets))
	for _, p := range packets {
		if p.From.IP.To4() != nil {
			v4Packets = append(v4Packets, p)
		} else {
			v6Packets = append(v6Packets, p)
		}
	}

	sent := 0
	if len(v4Packets) > 0 && b.v4 != nil {
		n, err := sendBatch(b.v4, v4Packets)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	if len(v6Packets) > 0 && b.v6 != nil {
		n, err := sendBatch(b.v6, v6Packets)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// recvBatch performs a single non-blocking recvmmsg(2) call, filling as
// many of packets as there are datagrams already queued on conn.
func recvBatch(conn *net.UDPConn, packets []Packet) (int, error) {
	if len(packets) == 0 {
		return 0, nil
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	iovecs := make([]unix.Iovec, len(packets))
	names := make([][unix.SizeofSockaddrInet6]byte, len(packets))
	hdrs := make([]unix.Mmsghdr, len(packets))
	for i := range packets {
		if cap(packets[i].Payload) == 0 {
			packets[i].Payload = make([]byte, 64*1024)
		}
		buf := packets[i].Payload[:cap(packets[i].Payload)]
		iovecs[i].Base = &buf[0]
		iovecs[i].SetLen(len(buf))
		hdrs[i].Hdr.Iov = &iovecs[i]
		hdrs[i].Hdr.Iovlen = 1
		hdrs[i].Hdr.Name = (*byte)(unsafe.Pointer(&names[i][0]))
		hdrs[i].Hdr.Namelen = uint32(len(names[i]))
	}

	var n int
	var opErr error
	err = rawConn.Read(func(fd uintptr) bool {
		n, opErr = recvmmsgNonblock(int(fd), hdrs)
		return true
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		if opErr == unix.EAGAIN {
			return 0, nil
		}
		return 0, opErr
	}

	for i := 0; i < n; i++ {
		packets[i].Payload = packets[i].Payload[:hdrs[i].Len]
		packets[i].From = sockaddrToUDPAddr(names[i][:], hdrs[i].Hdr.Namelen)
	}
	return n, nil
}

func sendBatch(conn *net.UDPConn, packets []Packet) (int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	iovecs := make([]unix.Iovec, len(packets))
	names := make([][unix.SizeofSockaddrInet6]byte, len(packets))
	hdrs := make([]unix.Mmsghdr, len(packets))
	for i, p := range packets {
		if len(p.Payload) == 0 {
			continue
		}
		iovecs[i].Base = &p.Payload[0]
		iovecs[i].SetLen(len(p.Payload))
		hdrs[i].Hdr.Iov = &iovecs[i]
		hdrs[i].Hdr.Iovlen = 1
		nameLen := udpAddrToSockaddr(names[i][:], p.From)
		hdrs[i].Hdr.Name = (*byte)(unsafe.Pointer(&names[i][0]))
		hdrs[i].Hdr.Namelen = nameLen
	}

	var n int
	var opErr error
	err = rawConn.Write(func(fd uintptr) bool {
		n, opErr = sendmmsgNonblock(int(fd), hdrs)
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, opErr
}

func recvmmsgNonblock(fd int, hdrs []unix.Mmsghdr) (int, error) {
	n, _, errno := unix.Syscall6(unix.SYS_RECVMMSG, uintptr(fd),
		uintptr(unsafe.Pointer(&hdrs[0])), uintptr(len(hdrs)),
		uintptr(unix.MSG_DONTWAIT), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func sendmmsgNonblock(fd int, hdrs []unix.Mmsghdr) (int, error) {
	n, _, errno := unix.Syscall6(unix.SYS_SENDMMSG, uintptr(fd),
		uintptr(unsafe.Pointer(&hdrs[0])), uintptr(len(hdrs)),
		uintptr(unix.MSG_DONTWAIT), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func sockaddrToUDPAddr(name []byte, nameLen uint32) *net.UDPAddr {
	family := binary.LittleEndian.Uint16(name[0:2])
	switch family {
	case unix.AF_INET:
		port := binary.BigEndian.Uint16(name[2:4])
		ip := make(net.IP, 4)
		copy(ip, name[4:8])
		return &net.UDPAddr{IP: ip, Port: int(port)}
	case unix.AF_INET6:
		port := binary.BigEndian.Uint16(name[2:4])
		ip := make(net.IP, 16)
		copy(ip, name[8:24])
		return &net.UDPAddr{IP: ip, Port: int(port)}
	default:
		return nil
	}
}

func udpAddrToSockaddr(buf []byte, addr *net.UDPAddr) uint32 {
	if ip4 := addr.IP.To4(); ip4 != nil {
		binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(addr.Port))
		copy(buf[4:8], ip4)
		return unix.SizeofSockaddrInet4
	}
	binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET6)
	binary.BigEndian.PutUint16(buf[2:4], uint16(addr.Port))
	copy(buf[8:24], addr.IP.To16())
	return unix.SizeofSockaddrInet6
}
