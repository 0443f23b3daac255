package tcpfwd

import (
	"net"
	"time"
)

// lowLatencyPorts lists destination ports that benefit from disabling
// Nagle's algorithm: interactive protocols where small writes should hit
// the wire immediately rather than coalescing.
var lowLatencyPorts = map[int]struct{}{
	22:    {}, // SSH
	2222:  {}, // SSH (alt)
	25565: {}, // Minecraft
}

// setExtNodelay tunes TCP_NODELAY based on whether either side of the
// relay is a known interactive/low-latency port, and disables TCP
// keepalive in favor of the idle supervisor's own liveness checks.
func setExtNodelay(conn *net.TCPConn, otherPort int) error {
	noDelay := false
	extPort := conn.RemoteAddr().(*net.TCPAddr).Port
	if _, ok := lowLatencyPorts[extPort]; ok {
		noDelay = true
	}
	if _, ok := lowLatencyPorts[otherPort]; ok {
		noDelay = true
	}

	if err := conn.SetNoDelay(noDelay); err != nil {
		return err
	}
	return conn.SetKeepAlive(false)
}

// TuneRelayPair applies setExtNodelay to both legs of a relay pair,
// each using the other's remote port as the "otherPort" heuristic,
// then lets keepAliveSecs override the idle-supervisor-favoring
// default of disabled keepalive: a positive value re-enables TCP
// keepalive with that period on both legs, matching
// config.TCPMiscOpts's "no_delay"/"keepalive_secs" knobs. forceNoDelay
// true always disables Nagle's algorithm on both legs regardless of
// port.
func TuneRelayPair(c1, c2 *net.TCPConn, forceNoDelay bool, keepAliveSecs int) error {
	if forceNoDelay {
		for _, c := range [...]*net.TCPConn{c1, c2} {
			if err := c.SetNoDelay(true); err != nil {
				return err
			}
			if err := c.SetKeepAlive(false); err != nil {
				return err
			}
		}
	} else {
		p1 := c1.RemoteAddr().(*net.TCPAddr).Port
		p2 := c2.RemoteAddr().(*net.TCPAddr).Port
		if err := setExtNodelay(c1, p2); err != nil {
			return err
		}
		if err := setExtNodelay(c2, p1); err != nil {
			return err
		}
	}

	if keepAliveSecs <= 0 {
		return nil
	}
	for _, c := range [...]*net.TCPConn{c1, c2} {
		if err := c.SetKeepAlive(true); err != nil {
			return err
		}
		if err := c.SetKeepAlivePeriod(time.Duration(keepAliveSecs) * time.Second); err != nil {
			return err
		}
	}
	return nil
}
