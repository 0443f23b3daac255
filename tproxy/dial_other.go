//go:build !linux

package tproxy

import "net"

// DialerForTransparentBind is unavailable outside Linux; callers fall
// back to a plain *net.Dialer without source-IP spoofing.
func DialerForTransparentBind(bindIP net.IP, mark int) *net.Dialer {
	return &net.Dialer{}
}
