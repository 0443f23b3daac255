// Package taskctx binds one accepted connection to a stable identity:
// a generated task ID, the proxy mode that accepted it, and a logger
// that carries both as structured fields (and as a line prefix) for
// the connection's whole lifetime.
package taskctx

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/h1skaak/g3goproxy/logutil"
)

// Context is the per-connection handle threaded through a mode's
// accept-and-serve path. It is not safe for concurrent mutation, but
// its Logger may be read and called from multiple goroutines once
// built, like any *logrus.Entry.
type Context struct {
	ID        string
	Mode      string
	StartedAt time.Time
	Logger    *logrus.Entry
}

// New assigns a fresh task ID to a connection accepted under mode
// (e.g. "fwdproxy", "tlsproxy", "tproxy"), deriving a logger from base
// that both carries id/mode as structured fields and prefixes every
// line with them, generalizing the per-connection tagging
// InstrumentedConn did by string formatting alone.
func New(mode string, base *logrus.Logger) *Context {
	id := uuid.NewString()

	derived := &logrus.Logger{
		Out:          base.Out,
		Hooks:        base.Hooks,
		Level:        base.Level,
		ExitFunc:     base.ExitFunc,
		ReportCaller: base.ReportCaller,
		Formatter:    logutil.NewPrefixFormatter(base.Formatter, "["+mode+" "+id+"] "),
	}

	entry := logrus.NewEntry(derived).WithFields(logrus.Fields{
		"task_id": id,
		"mode":    mode,
	})

	return &Context{
		ID:        id,
		Mode:      mode,
		StartedAt: time.Now(),
		Logger:    entry,
	}
}

// DebugHex logs a hex dump of b under tag at DebugLevel, matching
// InstrumentedConn's raw Read/Write tracing but gated so that encoding
// the buffer never happens on a production logger left at InfoLevel or
// above.
func (c *Context) DebugHex(tag string, b []byte) {
	if !c.Logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	c.Logger.WithField("bytes", len(b)).Debugf("%s: %s", tag, hex.EncodeToString(b))
}

// Elapsed returns the duration since the task was created.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}
