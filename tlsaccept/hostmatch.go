// Package tlsaccept builds the TLS-terminating front end for reverse
// proxy mode: certificate selection by SNI, session ticket key
// rotation, and a bounded read of the ClientHello before the rest of
// the handshake is allowed to proceed.
package tlsaccept

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// Host is one configured virtual host: a name (exact or "*."-wildcard)
// bound to the certificate presented for it.
type Host struct {
	Name        string
	Certificate *tls.Certificate
}

// HostMatch resolves a ClientHello server name to a configured Host,
// mirroring g3tiles' HostMatch<Arc<OpensslHostConfig>>: an exact-name
// table, a one-label wildcard table, and an optional default used when
// no SNI is sent or nothing else matches.
type HostMatch struct {
	exact    map[string]*Host
	wildcard map[string]*Host
	def      *Host
}

// NewHostMatch loads one certificate/key pair per virtual host and
// indexes them for lookup. A host named "*" is the default, returned
// when the ClientHello carries no matching (or no) server name. A host
// named "*.example.com" matches any single-label subdomain of
// example.com, not example.com itself.
func NewHostMatch(hosts []VirtualHost) (*HostMatch, error) {
	hm := &HostMatch{
		exact:    make(map[string]*Host),
		wildcard: make(map[string]*Host),
	}
	for _, vh := range hosts {
		cert, err := tls.LoadX509KeyPair(vh.CertFile, vh.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsaccept: load cert for host %q: %w", vh.Name, err)
		}
		host := &Host{Name: vh.Name, Certificate: &cert}

		name := strings.ToLower(strings.TrimSuffix(vh.Name, "."))
		switch {
		case name == "*":
			hm.def = host
		case strings.HasPrefix(name, "*."):
			hm.wildcard[name[2:]] = host
		default:
			hm.exact[name] = host
		}
	}
	return hm, nil
}

// Match looks up the Host for a ClientHello server name. matched is
// true only when serverName resolved to a configured exact or
// wildcard entry; a host returned with matched == false came from the
// default fallback, and the caller should treat serverName as
// unrecognized. Both are nil/false when nothing, including no
// default, applies.
func (hm *HostMatch) Match(serverName string) (host *Host, matched bool) {
	name := strings.ToLower(strings.TrimSuffix(serverName, "."))
	if name != "" {
		if host, ok := hm.exact[name]; ok {
			return host, true
		}
		if dot := strings.IndexByte(name, '.'); dot >= 0 {
			if host, ok := hm.wildcard[name[dot+1:]]; ok {
				return host, true
			}
		}
	}
	if hm.def != nil {
		return hm.def, false
	}
	return nil, false
}

// Empty reports whether no virtual hosts were configured at all,
// mirroring g3tiles' check() rejecting a server with no host config.
func (hm *HostMatch) Empty() bool {
	return len(hm.exact) == 0 && len(hm.wildcard) == 0 && hm.def == nil
}

// VirtualHost is the subset of config.VirtualHost tlsaccept needs;
// declared locally so this package does not depend on package config,
// the way streamcopy/icap/udprelay each take plain parameters rather
// than a shared Config type.
type VirtualHost struct {
	Name     string
	CertFile string
	KeyFile  string
}
