// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proxydial

import (
	"net"
	"net/netip"
	"strings"
)

// PerHost lets a host bypass the configured upstream proxy dialer in
// favor of a direct connection, based on an exception list (IPs, CIDRs,
// DNS zones, or exact host names).
type PerHost struct {
	bypassNetworks []netip.Prefix
	bypassIPs      []netip.Addr
	bypassZones    []string
	bypassHosts    []string
}

// NewPerHost returns an empty bypass list.
func NewPerHost() *PerHost {
	return &PerHost{}
}

// TestBypass reports whether host should bypass the upstream proxy.
func (p *PerHost) TestBypass(host string) bool {
	if ip, err := netip.ParseAddr(host); err == nil {
		for _, n := range p.bypassNetworks {
			if n.Contains(ip) {
				return true
			}
		}
		for _, bypassIP := range p.bypassIPs {
			if bypassIP == ip {
				return true
			}
		}
		return false
	}

	for _, zone := range p.bypassZones {
		if strings.HasSuffix(host, zone) {
			return true
		}
		if host == zone[1:] {
			// a zone ".example.com" also matches "example.com"
			return true
		}
	}
	for _, bypassHost := range p.bypassHosts {
		if bypassHost == host {
			return true
		}
	}
	return false
}

// "lazy" CIDR = 10/8, 169.254/16, etc.
func convertLazyCidr(str string) string {
	ipPart, maskPart, ok := strings.Cut(str, "/")
	if !ok {
		return str
	}

	if strings.ContainsAny(ipPart, ":abcdef") {
		return str
	}

	inOctets := strings.Split(ipPart, ".")
	var octets [4]string
	copy(octets[:], inOctets)
	for i := len(inOctets); i < 4; i++ {
		octets[i] = "0"
	}

	return strings.Join(octets[:], ".") + "/" + maskPart
}

// AddFromString parses a comma-separated exception list: each entry is
// an IP address, a CIDR range, a zone (*.example.com), or a host name.
// Malformed entries are skipped rather than rejecting the whole list.
func (p *PerHost) AddFromString(s string) {
	hosts := strings.Split(s, ",")
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if strings.Contains(host, "/") {
			host = convertLazyCidr(host)
			if n, err := netip.ParsePrefix(host); err == nil {
				p.AddNetwork(n)
			}
			continue
		}
		if ip, err := netip.ParseAddr(host); err == nil {
			p.AddIP(ip)
			continue
		}
		if strings.HasPrefix(host, "*.") {
			p.AddZone(host[1:])
			continue
		}
		p.AddHost(host)
	}
}

func (p *PerHost) AddIP(ip netip.Addr) {
	p.bypassIPs = append(p.bypassIPs, ip)
}

func (p *PerHost) AddNetwork(n netip.Prefix) {
	p.bypassNetworks = append(p.bypassNetworks, n)
}

func (p *PerHost) AddZone(zone string) {
	if strings.HasSuffix(zone, ".") {
		zone = zone[:len(zone)-1]
	}
	if !strings.HasPrefix(zone, ".") {
		zone = "." + zone
	}
	p.bypassZones = append(p.bypassZones, zone)
}

func (p *PerHost) AddHost(host string) {
	if strings.HasSuffix(host, ".") {
		host = host[:len(host)-1]
	}
	p.bypassHosts = append(p.bypassHosts, host)
}

// hostOf extracts the host portion of a host:port pair, tolerating a
// bare host with no port.
func hostOf(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort
	}
	return host
}
