package tlsaccept

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// retainedKeyCount bounds how many past session ticket keys Ticketer
// keeps loaded in *tls.Config at once: one current key plus enough
// prior ones that a ticket issued just before a rotation can still be
// decrypted for one more rotation interval.
const retainedKeyCount = 3

// DefaultRotateInterval mirrors the original tls_ticketer default of
// rotating roughly once an hour absent an explicit interval.
const DefaultRotateInterval = time.Hour

// Ticketer periodically replaces the active TLS session ticket keys on
// a *tls.Config, the local-key equivalent of the config's tls_ticketer
// knob (the original also supports fetching keys from a remote
// ticketer service; this spec carries only local rotation, see
// SPEC_FULL.md §2's tlsaccept entry).
type Ticketer struct {
	cfg      *tls.Config
	interval time.Duration

	mu   sync.Mutex
	keys [][32]byte
}

// NewTicketer builds a Ticketer that will rotate cfg's session ticket
// keys every interval once Start is called. interval <= 0 selects
// DefaultRotateInterval.
func NewTicketer(cfg *tls.Config, interval time.Duration) *Ticketer {
	if interval <= 0 {
		interval = DefaultRotateInterval
	}
	return &Ticketer{cfg: cfg, interval: interval}
}

// Start installs an initial key immediately and then rotates on the
// configured interval until ctx is cancelled.
func (t *Ticketer) Start(ctx context.Context) {
	t.rotate()
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.rotate()
			}
		}
	}()
}

func (t *Ticketer) rotate() {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		logrus.WithError(err).Error("tlsaccept: generating session ticket key failed, keeping previous keys")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = append([][32]byte{key}, t.keys...)
	if len(t.keys) > retainedKeyCount {
		t.keys = t.keys[:retainedKeyCount]
	}
	t.cfg.SetSessionTicketKeys(t.keys)
}
