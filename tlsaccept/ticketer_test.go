package tlsaccept

import (
	"context"
	"crypto/tls"
	"testing"
	"time"
)

func TestNewTicketerDefaultsNonPositiveInterval(t *testing.T) {
	tk := NewTicketer(&tls.Config{}, 0)
	if tk.interval != DefaultRotateInterval {
		t.Fatalf("interval = %v, want default %v", tk.interval, DefaultRotateInterval)
	}
}

func TestTicketerStartInstallsKeyBeforeReturning(t *testing.T) {
	tk := NewTicketer(&tls.Config{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk.Start(ctx)

	tk.mu.Lock()
	n := len(tk.keys)
	tk.mu.Unlock()
	if n != 1 {
		t.Fatalf("keys after Start = %d, want 1 installed immediately", n)
	}
}

func TestTicketerRotateRetainsBoundedHistory(t *testing.T) {
	tk := NewTicketer(&tls.Config{}, time.Hour)
	for i := 0; i < retainedKeyCount+5; i++ {
		tk.rotate()
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()
	if len(tk.keys) != retainedKeyCount {
		t.Fatalf("keys retained = %d, want capped at %d", len(tk.keys), retainedKeyCount)
	}
}

func TestTicketerRotatePrependsNewestKey(t *testing.T) {
	tk := NewTicketer(&tls.Config{}, time.Hour)
	tk.rotate()

	tk.mu.Lock()
	first := tk.keys[0]
	tk.mu.Unlock()

	tk.rotate()

	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.keys[0] == first {
		t.Fatalf("newest key should differ from the previous newest key")
	}
	if len(tk.keys) < 2 || tk.keys[1] != first {
		t.Fatalf("previous newest key should be retained at index 1")
	}
}
