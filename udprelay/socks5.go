package udprelay

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
)

var (
	errShortSocks5Header    = errors.New("udprelay: truncated socks5 udp header")
	errUnsupportedSocks5Atyp = errors.New("udprelay: unsupported socks5 address type")
)

// socks5 UDP request header field values, RFC 1928 §7.
const (
	socks5Reserved = 0x0000
	socks5Frag     = 0x00

	socks5AtypIPv4   = 0x01
	socks5AtypDomain = 0x03
	socks5AtypIPv6   = 0x04
)

// socks5Header is a precomputed RFC 1928 §7 UDP request header: two
// reserved bytes, one fragment byte, one address-type byte, the
// destination address, and its port. Header and payload travel as two
// scatter-gather segments so the payload itself is never copied.
type socks5Header []byte

func buildSocks5Header(dst *net.UDPAddr) socks5Header {
	ip4 := dst.IP.To4()
	var h []byte
	if ip4 != nil {
		h = make([]byte, 4+net.IPv4len+2)
		h[3] = socks5AtypIPv4
		copy(h[4:], ip4)
	} else {
		ip16 := dst.IP.To16()
		h = make([]byte, 4+net.IPv6len+2)
		h[3] = socks5AtypIPv6
		copy(h[4:], ip16)
	}
	binary.BigEndian.PutUint16(h[0:2], socks5Reserved)
	h[2] = socks5Frag
	binary.BigEndian.PutUint16(h[len(h)-2:], uint16(dst.Port))
	return h
}

// socks5HeaderCache memoizes one header per destination address so a
// long-lived UDP association does not recompute it on every datagram.
type socks5HeaderCache struct {
	mu      sync.Mutex
	headers map[string]socks5Header
}

func newSocks5HeaderCache() *socks5HeaderCache {
	return &socks5HeaderCache{headers: make(map[string]socks5Header)}
}

func (c *socks5HeaderCache) get(dst *net.UDPAddr) socks5Header {
	key := dst.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.headers[key]; ok {
		return h
	}
	h := buildSocks5Header(dst)
	c.headers[key] = h
	return h
}

// SendSocks5 writes payload to addr prepended with a SOCKS5 UDP request
// header via a two-segment scatter-gather write, for use when addr is
// actually the SOCKS5 relay's associated UDP address and dst is the
// ultimate destination the relay should forward to.
func (e *Endpoint) SendSocks5(payload []byte, relayAddr, dst *net.UDPAddr) (int, error) {
	conn := e.connFor(relayAddr)
	if conn == nil {
		return 0, ErrNoListenSocket
	}
	if e.socks5Headers == nil {
		e.socks5Headers = newSocks5HeaderCache()
	}
	header := e.socks5Headers.get(dst)

	buffers := net.Buffers{[]byte(header), payload}
	n64, err := buffers.WriteTo(udpBuffersWriter{conn: conn, addr: relayAddr})
	return int(n64), err
}

// udpBuffersWriter adapts a *net.UDPConn + fixed destination address to
// the plain io.Writer that net.Buffers.WriteTo requires.
type udpBuffersWriter struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (w udpBuffersWriter) Write(b []byte) (int, error) {
	return w.conn.WriteToUDP(b, w.addr)
}

// RecvSocks5 parses a SOCKS5 UDP reply header off the front of buf and
// returns the original sender's address plus the unwrapped payload.
func RecvSocks5(buf []byte) (origin *net.UDPAddr, payload []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, errShortSocks5Header
	}
	atyp := buf[3]
	rest := buf[4:]

	switch atyp {
	case socks5AtypIPv4:
		if len(rest) < net.IPv4len+2 {
			return nil, nil, errShortSocks5Header
		}
		ip := net.IP(append([]byte(nil), rest[:net.IPv4len]...))
		port := binary.BigEndian.Uint16(rest[net.IPv4len : net.IPv4len+2])
		return &net.UDPAddr{IP: ip, Port: int(port)}, rest[net.IPv4len+2:], nil
	case socks5AtypIPv6:
		if len(rest) < net.IPv6len+2 {
			return nil, nil, errShortSocks5Header
		}
		ip := net.IP(append([]byte(nil), rest[:net.IPv6len]...))
		port := binary.BigEndian.Uint16(rest[net.IPv6len : net.IPv6len+2])
		return &net.UDPAddr{IP: ip, Port: int(port)}, rest[net.IPv6len+2:], nil
	default:
		return nil, nil, errUnsupportedSocks5Atyp
	}
}
