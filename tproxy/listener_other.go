//go:build !linux

package tproxy

import (
	"context"
	"fmt"
	"net"
	"runtime"
)

// Listen is only implemented on Linux, where IP_TRANSPARENT exists;
// transparent proxy mode has no equivalent socket option elsewhere.
func Listen(_ context.Context, _, _ string) (net.Listener, error) {
	return nil, fmt.Errorf("tproxy: transparent listen unsupported on %s", runtime.GOOS)
}
