package icap

import (
	"io"
	"sync/atomic"
)

// legTracker reports one leg's progress to the orchestrating goroutine
// without that goroutine ever touching the leg's owned state directly:
// the leg's own trackingReader/trackingWriter wrappers are the sole
// writers of these atomics, the orchestrator only reads them, so each
// sub-component still has exactly one goroutine mutating its logic.
type legTracker struct {
	active atomic.Bool
	cached atomic.Bool // true: bytes read from this leg's source are buffered, not yet reached its sink
}

// IsActive satisfies idlecheck.Leg.
func (t *legTracker) IsActive() bool { return t.active.Load() }

// ResetActive satisfies idlecheck.Leg.
func (t *legTracker) ResetActive() { t.active.Store(false) }

// HasCache reports whether the leg is currently holding unflushed bytes
// (used to pick between the two idle-blame rows for one side).
func (t *legTracker) HasCache() bool { return t.cached.Load() }

// trackingReader marks its tracker active+cached after every successful
// read: the bytes now sit in the caller's buffer, not yet written
// onward.
type trackingReader struct {
	io.Reader
	tracker *legTracker
}

func (r *trackingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if n > 0 {
		r.tracker.active.Store(true)
		r.tracker.cached.Store(true)
	}
	return n, err
}

// trackingWriter marks its tracker active with an empty cache after
// every successful write: the bytes have left this leg.
type trackingWriter struct {
	io.Writer
	tracker *legTracker
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if n > 0 {
		w.tracker.active.Store(true)
		w.tracker.cached.Store(false)
	}
	return n, err
}
