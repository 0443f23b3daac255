// Package streamcopy implements the generic buffered byte pump shared by
// every proxy mode: plain TCP relay and the ICAP-to-client leg of the
// adaptation driver. The HTTP body re-framing writer does its own
// copying and does not use this package.
package streamcopy

import (
	"errors"
	"io"
	"runtime"

	"github.com/h1skaak/g3goproxy/util/ewma"
)

// ErrWriteZero is returned when the sink accepts zero bytes of a non-empty
// write without reporting an error.
var ErrWriteZero = errors.New("streamcopy: write accepted zero bytes")

const (
	minBufferSize     = 16 * 1024
	maxBufferSize     = 2 * 1024 * 1024
	defaultBufferSize = 64 * 1024

	defaultYieldSize = 1024 * 1024

	ewmaWeight = 1.0 / 128.0
)

// Config controls buffer sizing and cooperative-yield cadence shared by
// every copy leg. The zero Config is valid and resolves to the defaults.
type Config struct {
	// BufferSize is the starting (and minimum) read buffer size in bytes.
	BufferSize int
	// YieldSize is the number of bytes copied between cooperative
	// scheduler yields in the manual copy loop, giving other goroutines
	// on the same P a chance to run during a sustained high-throughput
	// transfer. It has no effect on the io.WriterTo/io.ReaderFrom fast
	// paths: those hand the whole transfer to the standard library in
	// one call, with no per-chunk point to yield from.
	YieldSize int
}

func (c Config) bufferSize() int {
	if c.BufferSize <= 0 {
		return defaultBufferSize
	}
	return c.BufferSize
}

func (c Config) yieldSize() int64 {
	if c.YieldSize <= 0 {
		return defaultYieldSize
	}
	return int64(c.YieldSize)
}

// ErrReadFailed wraps a read-side error so callers can attribute blame to
// the source.
type ErrReadFailed struct {
	Err error
}

func (e *ErrReadFailed) Error() string { return "streamcopy: read failed: " + e.Err.Error() }
func (e *ErrReadFailed) Unwrap() error { return e.Err }

// ErrWriteFailed wraps a write-side error so callers can attribute blame
// to the sink.
type ErrWriteFailed struct {
	Err error
}

func (e *ErrWriteFailed) Error() string { return "streamcopy: write failed: " + e.Err.Error() }
func (e *ErrWriteFailed) Unwrap() error { return e.Err }

// Copy is a double-buffered pump between a source and a sink. It is not
// safe for concurrent use: exactly one goroutine owns a Copy for its
// lifetime, matching the exclusive-access assumption of every component in
// this package family.
type Copy struct {
	src io.Reader
	dst io.Writer
	cfg Config

	buf         []byte
	bufFilled   int // bytes in buf not yet written to dst
	bufOffset   int // bytes of buf[0:bufFilled] already written
	total       int64
	active      bool
	finished    bool
	sinceYield  int64
	avg         ewma.EwmaF32
	bufThresHi  uint64
}

// New returns a Copy ready to pump bytes from src to dst.
func New(dst io.Writer, src io.Reader, cfg Config) *Copy {
	bs := cfg.bufferSize()
	return &Copy{
		src:        src,
		dst:        dst,
		cfg:        cfg,
		buf:        make([]byte, bs),
		avg:        ewma.NewF32(float32(bs), ewmaWeight),
		bufThresHi: uint64(bs * 3 / 4),
	}
}

// Run copies until src reaches EOF or either side errors. It returns the
// total number of bytes successfully written to dst.
func (c *Copy) Run() (int64, error) {
	// Fast paths: avoid the manual loop (and its buffer) entirely when the
	// underlying types already know how to copy themselves.
	if wt, ok := c.src.(io.WriterTo); ok {
		n, err := wt.WriteTo(c.dst)
		c.total += n
		c.finished = err == nil
		c.active = n > 0
		if err != nil {
			return c.total, &ErrWriteFailed{Err: err}
		}
		return c.total, nil
	}
	if rf, ok := c.dst.(io.ReaderFrom); ok {
		n, err := rf.ReadFrom(c.src)
		c.total += n
		c.finished = err == nil
		c.active = n > 0
		if err != nil {
			return c.total, &ErrReadFailed{Err: err}
		}
		return c.total, nil
	}

	for {
		nr, er := c.src.Read(c.buf)
		if nr > 0 {
			c.bufFilled = nr
			c.bufOffset = 0
			if err := c.drain(); err != nil {
				return c.total, err
			}
			c.active = true
			c.sinceYield += int64(nr)
			if c.sinceYield >= c.cfg.yieldSize() {
				c.sinceYield = 0
				runtime.Gosched()
			}
			c.growIfNeeded(nr)
		}
		if er != nil {
			if er == io.EOF {
				c.finished = true
				return c.total, nil
			}
			return c.total, &ErrReadFailed{Err: er}
		}
	}
}

// drain writes buf[bufOffset:bufFilled] to dst, retrying partial writes.
func (c *Copy) drain() error {
	for c.bufOffset < c.bufFilled {
		nw, ew := c.dst.Write(c.buf[c.bufOffset:c.bufFilled])
		if nw < 0 {
			nw = 0
		}
		c.total += int64(nw)
		c.bufOffset += nw
		if ew != nil {
			return &ErrWriteFailed{Err: ew}
		}
		if nw == 0 {
			return &ErrWriteFailed{Err: ErrWriteZero}
		}
	}
	c.bufFilled = 0
	c.bufOffset = 0
	return nil
}

// growIfNeeded scales the buffer up (never down, to avoid oscillation)
// once the EWMA of recent read sizes crosses 3/4 of the current capacity.
func (c *Copy) growIfNeeded(lastRead int) {
	newAvg := uint64(c.avg.Update(float32(lastRead)))
	if newAvg <= c.bufThresHi || len(c.buf) >= maxBufferSize {
		return
	}
	target := nextPow2(nextPow2(len(c.buf)))
	target = min(maxBufferSize, target)
	target = max(minBufferSize, target)
	c.buf = make([]byte, target)
	c.bufThresHi = uint64(target * 3 / 4)
}

// IsActive reports whether any bytes were copied since the last
// ResetActive call.
func (c *Copy) IsActive() bool { return c.active }

// ResetActive clears the activity flag; called once per idle-check tick.
func (c *Copy) ResetActive() { c.active = false }

// NoCachedData reports whether the internal buffer currently holds bytes
// not yet flushed to the sink.
func (c *Copy) NoCachedData() bool { return c.bufOffset >= c.bufFilled }

// Finished reports whether Run has observed EOF from the source.
func (c *Copy) Finished() bool { return c.finished }

// TotalWritten returns the cumulative byte count written to the sink so
// far; monotonically non-decreasing across the lifetime of the Copy.
func (c *Copy) TotalWritten() int64 { return c.total }

func nextPow2(x int) int {
	return 1 << ewma.CeilILog2(uint(x+1))
}
