// Package tproxy recovers the pre-redirect destination address of
// connections accepted from a Linux IP_TRANSPARENT listener, for both
// TCP (LocalAddr already carries it) and UDP (recovered from an
// IP_RECVORIGDSTADDR control message, since one UDP socket serves
// every flow).
package tproxy

import (
	"errors"
	"net"
)

// ErrNotTCPAddr is returned when a connection's LocalAddr is not a
// *net.TCPAddr, which should never happen for a net.Listener built by
// Listen but is checked rather than asserted against a caller-supplied
// net.Conn.
var ErrNotTCPAddr = errors.New("tproxy: connection local address is not a *net.TCPAddr")

// OriginalDestination returns the connection's pre-redirect
// destination address. Under IP_TRANSPARENT + policy routing (the mode
// Listen sets up), the kernel hands the accepted socket its true
// destination as LocalAddr directly, so no SO_ORIGINAL_DST lookup is
// needed for TCP — unlike a plain iptables/nft REDIRECT-based proxy,
// which would need that getsockopt to undo the NAT rewrite. This
// mirrors scon/domainproxy's own
// `net.SplitHostPort(conn.LocalAddr().String())` recovery.
func OriginalDestination(conn net.Conn) (*net.TCPAddr, error) {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, ErrNotTCPAddr
	}
	return addr, nil
}
