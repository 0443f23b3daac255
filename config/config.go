// Package config loads the typed, canonicalized configuration the
// three cmd/ entry points build their listeners and per-connection
// cores from. The core packages (streamcopy, icap, udprelay, ...)
// never parse YAML themselves; they only ever see the structs below.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Defaults mirrored from the idle-check bounds shared with package
// idlecheck, so a YAML document that omits these keys behaves
// identically to the hard-coded Go defaults.
const (
	DefaultTaskIdleCheckDuration = Duration(60 * time.Second)
	DefaultTaskIdleMaxCount      = 5
	MaxTaskIdleCheckDuration     = Duration(5 * time.Minute)

	DefaultAcceptTimeout          = Duration(10 * time.Second)
	DefaultClientHelloRecvTimeout = Duration(5 * time.Second)
	DefaultClientHelloMaxSize     = 16 * 1024
)

// Duration wraps time.Duration so YAML documents can use humanized
// strings ("15s", "1h") the way the original's g3_yaml::humanize
// decoders accept them; time.Duration itself has no YAML text
// unmarshaling and would otherwise only accept a bare nanosecond count.
type Duration time.Duration

// UnmarshalYAML decodes a humanized duration string via
// time.ParseDuration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML re-emits the duration in the same humanized form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// VirtualHost binds one TLS SNI name (or wildcard) to the certificate
// material the acceptor should present for it, and the backend it
// forwards decrypted traffic to once the handshake completes.
type VirtualHost struct {
	Name     string `yaml:"name"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Upstream string `yaml:"upstream"`
}

// TCPMiscOpts carries the handful of raw socket knobs the teacher's
// vnet/tcpfwd.Opts-style tuning exposes, surfaced here as config.
type TCPMiscOpts struct {
	NoDelay       bool `yaml:"no_delay"`
	KeepAliveSecs int  `yaml:"keepalive_secs"`
}

// Config is the canonical, alias-resolved configuration for one
// listener, shared by all three modes (fwdproxy, tlsproxy, tproxy);
// a mode-specific binary reads only the fields it needs.
type Config struct {
	Listen               string            `yaml:"listen"`
	ListenInWorker       bool              `yaml:"listen_in_worker"`
	IngressNetFilter     string            `yaml:"ingress_net_filter"`
	TCPSockSpeedLimit    uint64            `yaml:"tcp_sock_speed_limit"`
	TCPCopyBufferSize    int               `yaml:"tcp_copy_buffer_size"`
	TCPCopyYieldSize     int               `yaml:"tcp_copy_yield_size"`
	TaskIdleCheckDuration Duration         `yaml:"task_idle_check_duration"`
	TaskIdleMaxCount     int               `yaml:"task_idle_max_count"`

	FlushTaskLogOnCreated   bool     `yaml:"flush_task_log_on_created"`
	FlushTaskLogOnConnected bool     `yaml:"flush_task_log_on_connected"`
	TaskLogFlushInterval    Duration `yaml:"task_log_flush_interval"`

	TLSTicketer           string `yaml:"tls_ticketer"`
	AlertUnrecognizedName bool   `yaml:"alert_unrecognized_name"`

	Escaper      string            `yaml:"escaper"`
	Auditor      string            `yaml:"auditor"`
	SharedLogger string            `yaml:"shared_logger"`
	ExtraMetricsTags map[string]string `yaml:"extra_metrics_tags"`

	ClientHelloRecvTimeout Duration `yaml:"client_hello_recv_timeout"`
	ClientHelloMaxSize     int      `yaml:"client_hello_max_size"`
	AcceptTimeout          Duration `yaml:"accept_timeout"`

	VirtualHosts []VirtualHost `yaml:"virtual_hosts"`

	TCPMiscOpts            TCPMiscOpts `yaml:"tcp_misc_opts"`
	TLSNoAsyncMode         bool        `yaml:"tls_no_async_mode"`
	SpawnTaskUnconstrained bool        `yaml:"spawn_task_unconstrained"`

	// UDPListen and UDPUpstream configure the forward proxy's UDP relay
	// mode: a fixed-destination datagram forwarder built on
	// udprelay.Relay, distinct from the TCP CONNECT path which learns
	// its destination per-connection from the client.
	UDPListen   string `yaml:"udp_listen"`
	UDPUpstream string `yaml:"udp_upstream"`
}

// deprecatedAliases maps a legacy key to its canonical replacement,
// mirroring tcp_tproxy.rs's set() dispatch ("tcp_conn_speed_limit" |
// "tcp_conn_limit" | "conn_limit" => warn, then re-dispatch under the
// canonical key).
var deprecatedAliases = map[string]string{
	"tcp_conn_speed_limit": "tcp_sock_speed_limit",
	"tcp_conn_limit":       "tcp_sock_speed_limit",
	"conn_limit":           "tcp_sock_speed_limit",
	"handshake_timeout":    "accept_timeout",
	"negotiation_timeout":  "accept_timeout",
	"task_unconstrained":   "spawn_task_unconstrained",
}

// nonDeprecatedAliases are synonyms with no migration warning attached.
var nonDeprecatedAliases = map[string]string{
	"hosts": "virtual_hosts",
}

// Load reads and decodes a YAML config document at path, canonicalizing
// any deprecated or synonym keys before populating Config. Each
// deprecated key present triggers one logrus.Warn for this load; the
// returned Config carries only canonical field values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes the same way Load does, without
// touching the filesystem.
func Parse(data []byte) (*Config, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	canonicalized := canonicalizeKeys(raw)

	canonicalBytes, err := yaml.Marshal(canonicalized)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshal canonicalized keys: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(canonicalBytes, cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg.applyBounds()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		TaskIdleCheckDuration:  DefaultTaskIdleCheckDuration,
		TaskIdleMaxCount:       DefaultTaskIdleMaxCount,
		AcceptTimeout:          DefaultAcceptTimeout,
		ClientHelloRecvTimeout: DefaultClientHelloRecvTimeout,
		ClientHelloMaxSize:     DefaultClientHelloMaxSize,
	}
}

// canonicalizeKeys rewrites deprecated and synonym top-level keys to
// their canonical name, warning once per deprecated key encountered.
// A canonical key already present in raw always wins over an alias.
func canonicalizeKeys(raw map[string]yaml.Node) map[string]yaml.Node {
	out := make(map[string]yaml.Node, len(raw))
	for k, v := range raw {
		canonical, deprecated := deprecatedAliases[k]
		if !deprecated {
			canonical, _ = nonDeprecatedAliases[k]
		}
		if canonical == "" {
			out[k] = v
			continue
		}
		if deprecated {
			logrus.Warnf("config: deprecated key %q, use %q instead", k, canonical)
		}
		if _, exists := raw[canonical]; exists {
			// the canonical key was set explicitly too; it wins, drop the alias
			continue
		}
		out[canonical] = v
	}
	return out
}

// applyBounds clamps fields the original config layer clamps at
// check()-time rather than rejecting outright.
func (c *Config) applyBounds() {
	if c.TaskIdleCheckDuration > MaxTaskIdleCheckDuration {
		c.TaskIdleCheckDuration = MaxTaskIdleCheckDuration
	}
	if c.TaskIdleCheckDuration <= 0 {
		c.TaskIdleCheckDuration = DefaultTaskIdleCheckDuration
	}
	if c.TaskIdleMaxCount <= 0 {
		c.TaskIdleMaxCount = DefaultTaskIdleMaxCount
	}
}
