//go:build !linux

package tproxy

import (
	"fmt"
	"net"
	"runtime"
)

// EnableRecvOrigDst is only implemented on Linux; see udp_linux.go.
func EnableRecvOrigDst(_ *net.UDPConn) error {
	return fmt.Errorf("tproxy: recv orig dst unsupported on %s", runtime.GOOS)
}

// RecvFromOrigDst is only implemented on Linux; see udp_linux.go.
func RecvFromOrigDst(_ *net.UDPConn, _ []byte) (int, *net.UDPAddr, *net.UDPAddr, error) {
	return 0, nil, nil, fmt.Errorf("tproxy: recv orig dst unsupported on %s", runtime.GOOS)
}
