// Package udprelay implements the dual-family UDP receive/send endpoint
// used by the UDP forward-proxy mode, including a batched scatter-gather
// fast path on platforms that support it.
package udprelay

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoListenSocket is returned by Recv when neither the v4 nor v6
// socket is bound.
var ErrNoListenSocket = errors.New("udprelay: no listen socket for either address family")

// Packet is one received datagram plus its source address, reused
// across calls to BatchRecv to avoid per-packet allocation.
type Packet struct {
	Payload []byte
	From    *net.UDPAddr
}

type recvResult struct {
	payload []byte
	from    *net.UDPAddr
	err     error
}

// Endpoint holds up to one socket per address family. Holding two
// concrete sockets rather than a single polymorphic one keeps the hot
// receive/send path monomorphic and makes it possible to attribute an
// error to the specific bind address that produced it.
//
// Each bound socket is read by its own goroutine into a small channel;
// Recv then applies the biased v4-then-v6 priority with Go's select by
// probing the v4 channel non-blocking before falling into a blocking
// select over both (net.UDPConn exposes no portable non-blocking peek,
// so this is how the single-syscall biased poll described for the
// underlying engine is emulated on top of net).
type Endpoint struct {
	v4     *net.UDPConn
	v4Addr *net.UDPAddr
	v4ch   chan recvResult

	v6     *net.UDPConn
	v6Addr *net.UDPAddr
	v6ch   chan recvResult

	batch batcher

	socks5Headers *socks5HeaderCache
}

// Bind opens a listening UDP socket for each non-nil address. Either
// address may be nil, but not both.
func Bind(v4, v6 *net.UDPAddr) (*Endpoint, error) {
	if v4 == nil && v6 == nil {
		return nil, ErrNoListenSocket
	}

	e := &Endpoint{}
	if v4 != nil {
		conn, err := net.ListenUDP("udp4", v4)
		if err != nil {
			return nil, fmt.Errorf("udprelay: bind v4 %s: %w", v4, err)
		}
		e.v4 = conn
		e.v4Addr = v4
		e.v4ch = make(chan recvResult)
		go e.readLoop(conn, e.v4ch)
	}
	if v6 != nil {
		conn, err := net.ListenUDP("udp6", v6)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("udprelay: bind v6 %s: %w", v6, err)
		}
		e.v6 = conn
		e.v6Addr = v6
		e.v6ch = make(chan recvResult)
		go e.readLoop(conn, e.v6ch)
	}
	e.batch = newBatcher(e.v4, e.v6)
	return e, nil
}

func (e *Endpoint) readLoop(conn *net.UDPConn, out chan<- recvResult) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			out <- recvResult{err: err}
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		out <- recvResult{payload: payload, from: from}
	}
}

// Close releases both sockets.
func (e *Endpoint) Close() error {
	var err error
	if e.v4 != nil {
		err = e.v4.Close()
	}
	if e.v6 != nil {
		if err2 := e.v6.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// ErrRecvFailed wraps a receive-side error with the bind address that
// produced it, so operators can tell which listener failed.
type ErrRecvFailed struct {
	Addr *net.UDPAddr
	Err  error
}

func (e *ErrRecvFailed) Error() string {
	return fmt.Sprintf("udprelay: recv on %s failed: %v", e.Addr, e.Err)
}
func (e *ErrRecvFailed) Unwrap() error { return e.Err }

// Recv reads one packet, favoring the v4 socket when both have a
// datagram ready, so ties favor the shorter address family.
func (e *Endpoint) Recv(buf []byte) (n int, from *net.UDPAddr, err error) {
	if e.v4ch == nil && e.v6ch == nil {
		return 0, nil, ErrNoListenSocket
	}

	if e.v4ch != nil {
		select {
		case r := <-e.v4ch:
			return e.deliver(r, e.v4Addr, buf)
		default:
		}
	}

	select {
	case r := <-e.v4ch:
		return e.deliver(r, e.v4Addr, buf)
	case r := <-e.v6ch:
		return e.deliver(r, e.v6Addr, buf)
	}
}

func (e *Endpoint) deliver(r recvResult, addr *net.UDPAddr, buf []byte) (int, *net.UDPAddr, error) {
	if r.err != nil {
		return 0, nil, &ErrRecvFailed{Addr: addr, Err: r.err}
	}
	n := copy(buf, r.payload)
	return n, r.from, nil
}

// SendTo writes one packet to addr via the socket matching its address
// family.
func (e *Endpoint) SendTo(payload []byte, addr *net.UDPAddr) (int, error) {
	conn := e.connFor(addr)
	if conn == nil {
		return 0, ErrNoListenSocket
	}
	return conn.WriteToUDP(payload, addr)
}

func (e *Endpoint) connFor(addr *net.UDPAddr) *net.UDPConn {
	if addr.IP.To4() != nil {
		return e.v4
	}
	return e.v6
}

// BatchRecv fills packets with as many datagrams as are immediately
// available in one syscall where the platform supports it
// (recvmmsg-class), falling back to one Recv call per packet otherwise.
// Returns the number of packets filled.
func (e *Endpoint) BatchRecv(packets []Packet) (int, error) {
	return e.batch.recv(e, packets)
}

// BatchSend writes multiple packets in as few syscalls as the platform
// allows.
func (e *Endpoint) BatchSend(packets []Packet) (int, error) {
	return e.batch.send(e, packets)
}
