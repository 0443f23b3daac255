package config

import (
	"testing"
	"time"
)

func TestParseCanonicalKeys(t *testing.T) {
	doc := []byte(`
listen: "127.0.0.1:8080"
escaper: direct
tcp_sock_speed_limit: 1000000
accept_timeout: 15s
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("Listen = %q", cfg.Listen)
	}
	if cfg.TCPSockSpeedLimit != 1000000 {
		t.Fatalf("TCPSockSpeedLimit = %d", cfg.TCPSockSpeedLimit)
	}
	if cfg.AcceptTimeout.Std() != 15*time.Second {
		t.Fatalf("AcceptTimeout = %v", cfg.AcceptTimeout)
	}
}

func TestParseDeprecatedAliasesMapToCanonical(t *testing.T) {
	doc := []byte(`
conn_limit: 500000
handshake_timeout: 8s
task_unconstrained: true
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.TCPSockSpeedLimit != 500000 {
		t.Fatalf("TCPSockSpeedLimit = %d, want 500000 (from conn_limit)", cfg.TCPSockSpeedLimit)
	}
	if cfg.AcceptTimeout.Std() != 8*time.Second {
		t.Fatalf("AcceptTimeout = %v, want 8s (from handshake_timeout)", cfg.AcceptTimeout)
	}
	if !cfg.SpawnTaskUnconstrained {
		t.Fatalf("SpawnTaskUnconstrained = false, want true (from task_unconstrained)")
	}
}

func TestParseExplicitCanonicalKeyWinsOverAlias(t *testing.T) {
	doc := []byte(`
tcp_sock_speed_limit: 42
conn_limit: 999
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.TCPSockSpeedLimit != 42 {
		t.Fatalf("TCPSockSpeedLimit = %d, want 42 (explicit canonical key should win)", cfg.TCPSockSpeedLimit)
	}
}

func TestParseHostsAliasesVirtualHosts(t *testing.T) {
	doc := []byte(`
hosts:
  - name: example.com
    cert_file: /etc/ssl/example.crt
    key_file: /etc/ssl/example.key
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cfg.VirtualHosts) != 1 || cfg.VirtualHosts[0].Name != "example.com" {
		t.Fatalf("VirtualHosts = %+v, want one entry named example.com", cfg.VirtualHosts)
	}
}

func TestParseDefaultsAppliedWhenOmitted(t *testing.T) {
	cfg, err := Parse([]byte(`listen: ":8080"`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.TaskIdleCheckDuration != DefaultTaskIdleCheckDuration {
		t.Fatalf("TaskIdleCheckDuration = %v, want default %v", cfg.TaskIdleCheckDuration, DefaultTaskIdleCheckDuration)
	}
	if cfg.TaskIdleMaxCount != DefaultTaskIdleMaxCount {
		t.Fatalf("TaskIdleMaxCount = %d, want default %d", cfg.TaskIdleMaxCount, DefaultTaskIdleMaxCount)
	}
}

func TestParseClampsExcessiveIdleCheckDuration(t *testing.T) {
	cfg, err := Parse([]byte(`task_idle_check_duration: 1h`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.TaskIdleCheckDuration != MaxTaskIdleCheckDuration {
		t.Fatalf("TaskIdleCheckDuration = %v, want clamped to %v", cfg.TaskIdleCheckDuration, MaxTaskIdleCheckDuration)
	}
}
