package proxydial

import (
	"fmt"
	"net/url"
)

// ParseEscaper turns the config package's free-form "escaper" string into
// a dialer Config. An empty string, or the literal "direct", dials
// straight through; an "http://", "https://", or "socks5://" URL selects
// the matching upstream proxy. This collapses the teacher's
// escaper-by-name registry lookup to a single static URL, since this
// daemon carries no escaper chain of its own to look a name up in.
func ParseEscaper(raw string) (Config, error) {
	if raw == "" || raw == "direct" {
		return Config{}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("proxydial: parse escaper %q: %w", raw, err)
	}

	switch u.Scheme {
	case "socks5":
		cfg := Config{SOCKS5Addr: u.Host}
		if u.User != nil {
			cfg.SOCKS5User = u.User.Username()
			cfg.SOCKS5Password, _ = u.User.Password()
		}
		return cfg, nil
	case "http":
		return Config{HTTPProxyURL: u, HTTPSProxyURL: u}, nil
	case "https":
		return Config{HTTPSProxyURL: u}, nil
	default:
		return Config{}, fmt.Errorf("proxydial: unsupported escaper scheme %q", u.Scheme)
	}
}
