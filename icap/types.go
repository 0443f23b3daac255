// Package icap implements the bidirectional ICAP respmod adaptation
// driver: the core that streams an in-flight HTTP body to an
// adaptation server while concurrently receiving the adapted body
// back, merging both transfers with the primary client copy under one
// idle supervisor.
package icap

import (
	"errors"
	"fmt"
	"time"

	"github.com/h1skaak/g3goproxy/httpbody"
)

// AdaptedResponse is the external ICAP parser's result shape: the raw
// adapted HTTP response header plus the information needed to decode
// its body. The grammar that produces this value is an opaque external
// collaborator from the core's point of view.
type AdaptedResponse struct {
	Header        []byte
	ContentLength *uint64
	BodyType      httpbody.BodyType
}

// IcapResponseShape is what the (out-of-scope) ICAP wire parser yields:
// either a status-only response with nothing to forward as a new body,
// or an adapted HTTP response to relay to the client.
type IcapResponseShape struct {
	StatusOnly bool
	Response   *AdaptedResponse
}

// ResponseParser parses an ICAP response header off r, bounded by
// headerMaxLen bytes. The core treats this purely as an injected
// collaborator; it never implements ICAP grammar itself.
type ResponseParser func(r BufReader, headerMaxLen int) (IcapResponseShape, error)

// BufReader is the subset of *bufio.Reader the driver and its
// collaborators need: byte-granular reads plus a non-destructive peek
// used to detect an early ICAP reply without consuming it.
type BufReader interface {
	Read(p []byte) (int, error)
	ReadByte() (byte, error)
	Peek(n int) ([]byte, error)
}

// ClientWriter serializes the adapted response header once, then
// accepts raw body bytes.
type ClientWriter interface {
	SendResponseHeader(header []byte) error
	Write(p []byte) (int, error)
}

// AdaptationRunState is the event timeline for one adaptation, used for
// observability. Each field is set at most once, and Driver.Run sets
// them in increasing order; MarkHeader and MarkAll do not check that
// the earlier fields are already set.
type AdaptationRunState struct {
	ClientSendStartAt  time.Time
	ClientSendHeaderAt time.Time
	ClientSendAllAt    time.Time
}

func (s *AdaptationRunState) MarkStart() {
	if s.ClientSendStartAt.IsZero() {
		s.ClientSendStartAt = time.Now()
	}
}

func (s *AdaptationRunState) MarkHeader() {
	if s.ClientSendHeaderAt.IsZero() {
		s.ClientSendHeaderAt = time.Now()
	}
}

func (s *AdaptationRunState) MarkAll() {
	if s.ClientSendAllAt.IsZero() {
		s.ClientSendAllAt = time.Now()
	}
}

// EndState classifies how Run concluded.
type EndState int

const (
	EndCompleted EndState = iota
	EndHttpUpstreamReadIdle
	EndIcapServerWriteIdle
	EndIcapServerReadIdle
	EndHttpClientWriteIdle
	EndIdleForceQuit
)

func (s EndState) String() string {
	switch s {
	case EndCompleted:
		return "completed"
	case EndHttpUpstreamReadIdle:
		return "http-upstream-read-idle"
	case EndIcapServerWriteIdle:
		return "icap-server-write-idle"
	case EndIcapServerReadIdle:
		return "icap-server-read-idle"
	case EndHttpClientWriteIdle:
		return "http-client-write-idle"
	case EndIdleForceQuit:
		return "idle-force-quit"
	default:
		return fmt.Sprintf("icap.EndState(%d)", int(s))
	}
}

// ErrHttpUpstreamReadFailed wraps an upstream body read error.
type ErrHttpUpstreamReadFailed struct{ Err error }

func (e *ErrHttpUpstreamReadFailed) Error() string {
	return fmt.Sprintf("icap: upstream read failed: %v", e.Err)
}
func (e *ErrHttpUpstreamReadFailed) Unwrap() error { return e.Err }

// ErrIcapServerWriteFailed wraps an ICAP-writer error.
type ErrIcapServerWriteFailed struct{ Err error }

func (e *ErrIcapServerWriteFailed) Error() string {
	return fmt.Sprintf("icap: server write failed: %v", e.Err)
}
func (e *ErrIcapServerWriteFailed) Unwrap() error { return e.Err }

// ErrIcapServerReadFailed wraps an ICAP-reader error.
type ErrIcapServerReadFailed struct{ Err error }

func (e *ErrIcapServerReadFailed) Error() string {
	return fmt.Sprintf("icap: server read failed: %v", e.Err)
}
func (e *ErrIcapServerReadFailed) Unwrap() error { return e.Err }

// ErrIcapServerConnectionClosed is returned when the ICAP connection
// closes before a response header is observed.
var ErrIcapServerConnectionClosed = errors.New("icap: server connection closed")

// ErrHttpClientWriteFailed wraps a downstream client write error.
type ErrHttpClientWriteFailed struct{ Err error }

func (e *ErrHttpClientWriteFailed) Error() string {
	return fmt.Sprintf("icap: client write failed: %v", e.Err)
}
func (e *ErrHttpClientWriteFailed) Unwrap() error { return e.Err }

// Directional idleness sentinels, matching the blame table in §4.4.
var (
	ErrHttpUpstreamReadIdle = errors.New("icap: upstream read idle")
	ErrIcapServerWriteIdle  = errors.New("icap: server write idle")
	ErrIcapServerReadIdle   = errors.New("icap: server read idle")
	ErrHttpClientWriteIdle  = errors.New("icap: client write idle")
)

// ErrInvalidHttpBodyFromIcapServer is returned when the adapted body's
// actual length disagrees with its declared Content-Length, or a
// Content-Length of 0 is paired with a present body section.
var ErrInvalidHttpBodyFromIcapServer = errors.New("icap: invalid http body from icap server")

// ErrIdleForceQuit carries the externally supplied reason (typically
// "context canceled") for a force-quit short-circuit.
type ErrIdleForceQuit struct{ Reason string }

func (e *ErrIdleForceQuit) Error() string { return fmt.Sprintf("icap: force quit: %s", e.Reason) }
