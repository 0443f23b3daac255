//go:build !linux

package udprelay

import "net"

// batcher is the fallback, portable implementation: one syscall per
// packet via the endpoint's own Recv/SendTo. It has the same contract
// as the Linux recvmmsg/sendmmsg-backed batcher so callers never branch
// on platform.
type batcher struct{}

func newBatcher(v4, v6 *net.UDPConn) batcher {
	return batcher{}
}

func (batcher) recv(e *Endpoint, packets []Packet) (int, error) {
	if len(packets) == 0 {
		return 0, nil
	}
	n, from, err := e.Recv(packets[0].Payload)
	if err != nil {
		return 0, err
	}
	packets[0].Payload = packets[0].Payload[:n]
	packets[0].From = from
	return 1, nil
}

func (batcher) send(e *Endpoint, packets []Packet) (int, error) {
	for i, p := range packets {
		if _, err := e.SendTo(p.Payload, p.From); err != nil {
			return i, err
		}
	}
	return len(packets), nil
}
