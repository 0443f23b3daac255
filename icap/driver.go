package icap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/h1skaak/g3goproxy/httpbody"
	"github.com/h1skaak/g3goproxy/idlecheck"
	"github.com/h1skaak/g3goproxy/streamcopy"
)

// Config bundles everything a Driver needs for one adaptation: the
// copy-leg tuning shared with streamcopy, the adapted-header size
// bound, and the idle-supervision interval/threshold.
type Config struct {
	Copy           streamcopy.Config
	HttpHeaderSize int
	TrailerMaxLen  int
	Idle           idlecheck.Config
}

// Driver composes BufferedCopy, ChunkedFramingWriter, and IdleSupervisor
// into the four-leg bidirectional respmod pipeline described in the
// core's component design: upstream-read/icap-write, icap-read-wait,
// idle ticker, and (once a reply is observed) icap-read/client-write.
type Driver struct {
	cfg    Config
	parser ResponseParser
}

// New builds a Driver using parser to interpret the ICAP response
// header once bytes become available; the wire grammar itself is an
// external collaborator the driver never implements.
func New(cfg Config, parser ResponseParser) *Driver {
	return &Driver{cfg: cfg, parser: parser}
}

type leg1Result struct {
	n   int64
	err error
}

// Run drives one adaptation to completion: upstreamBody is the
// original request/response body (typed by bodyType), icapReader/
// icapWriter are the ICAP connection's two halves, clientWriter is the
// downstream sink. It returns once the client leg is fully delivered,
// a fatal error occurs, or the idle supervisor (or ctx) calls quit.
func (d *Driver) Run(
	ctx context.Context,
	upstreamBody BufReader,
	icapReader *bufio.Reader,
	icapWriter IcapWriter,
	clientWriter ClientWriter,
	bodyType httpbody.BodyType,
) (EndState, *AdaptationRunState, error) {
	state := &AdaptationRunState{}
	state.MarkStart()

	upstreamTracker := &legTracker{}
	trackedSrc := bufio.NewReader(&trackingReader{Reader: upstreamBody, tracker: upstreamTracker})
	trackedIcapWriter := &trackingWriter{Writer: icapWriter, tracker: upstreamTracker}

	leg1Done := make(chan leg1Result, 1)
	go func() {
		framer := httpbody.NewChunkedFramingWriter(trackedIcapWriter, bodyType)
		n, err := framer.Run(trackedSrc)
		leg1Done <- leg1Result{n: n, err: err}
	}()

	icapReady := make(chan error, 1)
	go func() {
		_, err := icapReader.Peek(1)
		icapReady <- err
	}()

	idle := idlecheck.New(d.cfg.Idle, upstreamTracker)
	defer idle.Stop()

	var leg1Err error
	leg1Finished := false
	icapResponseSeen := false

	for !icapResponseSeen {
		if !leg1Finished {
			select {
			case r := <-leg1Done:
				leg1Finished = true
				leg1Err = r.err
				continue
			default:
			}
		}
		select {
		case err := <-icapReady:
			if err != nil {
				if errors.Is(err, io.EOF) {
					return EndCompleted, state, ErrIcapServerConnectionClosed
				}
				return EndCompleted, state, &ErrIcapServerReadFailed{Err: err}
			}
			icapResponseSeen = true
		case r := <-leg1Done:
			leg1Finished = true
			leg1Err = r.err
		case <-idle.C():
			if quit := idle.Tick(); quit {
				return d.blameUpstreamOnly(upstreamTracker), state, nil
			}
		case <-ctx.Done():
			return EndIdleForceQuit, state, &ErrIdleForceQuit{Reason: ctx.Err().Error()}
		}
	}

	if leg1Err != nil && !errors.Is(leg1Err, httpbody.ErrShortBody) {
		var writeErr *httpbody.ErrWriteFailed
		if errors.As(leg1Err, &writeErr) {
			return EndCompleted, state, &ErrIcapServerWriteFailed{Err: leg1Err}
		}
		return EndCompleted, state, &ErrHttpUpstreamReadFailed{Err: leg1Err}
	}

	shape, err := d.parser(icapReader, d.cfg.HttpHeaderSize)
	if err != nil {
		return EndCompleted, state, &ErrIcapServerReadFailed{Err: err}
	}
	if shape.StatusOnly || shape.Response == nil {
		return EndCompleted, state, nil
	}
	resp := shape.Response

	if resp.ContentLength != nil && *resp.ContentLength == 0 {
		return EndCompleted, state, ErrInvalidHttpBodyFromIcapServer
	}

	if err := clientWriter.SendResponseHeader(resp.Header); err != nil {
		return EndCompleted, state, &ErrHttpClientWriteFailed{Err: err}
	}
	state.MarkHeader()

	clientTracker := &legTracker{}
	decodeBodyType := resp.BodyType
	if resp.ContentLength != nil {
		decodeBodyType = httpbody.FixedLength(*resp.ContentLength)
	}
	decodeReader := httpbody.NewHttpBodyDecodeReader(icapReader, decodeBodyType, d.cfg.HttpHeaderSize)
	trackedDecodeReader := &trackingReader{Reader: decodeReader, tracker: clientTracker}
	trackedClientWriter := &trackingWriter{Writer: clientWriter, tracker: clientTracker}

	leg3Done := make(chan leg1Result, 1)
	go func() {
		n, err := streamcopy.New(trackedClientWriter, trackedDecodeReader, d.cfg.Copy).Run()
		leg3Done <- leg1Result{n: n, err: err}
	}()

	idle3 := idlecheck.New(d.cfg.Idle, upstreamTracker, clientTracker)
	defer idle3.Stop()

	for {
		select {
		case r := <-leg3Done:
			return d.finish(state, resp, decodeReader, r)
		case r := <-leg1Done:
			leg1Finished = true
			leg1Err = r.err
		case <-idle3.C():
			if quit := idle3.Tick(); quit {
				return d.blameBoth(leg1Finished, upstreamTracker, clientTracker), state, nil
			}
		case <-ctx.Done():
			return EndIdleForceQuit, state, &ErrIdleForceQuit{Reason: ctx.Err().Error()}
		}
	}
}

func (d *Driver) finish(
	state *AdaptationRunState,
	resp *AdaptedResponse,
	decodeReader *httpbody.HttpBodyDecodeReader,
	r leg1Result,
) (EndState, *AdaptationRunState, error) {
	if r.err != nil {
		return EndCompleted, state, &ErrHttpClientWriteFailed{Err: r.err}
	}

	if resp.ContentLength != nil && r.n != int64(*resp.ContentLength) {
		return EndCompleted, state, fmt.Errorf("%w: declared %d, copied %d",
			ErrInvalidHttpBodyFromIcapServer, *resp.ContentLength, r.n)
	}

	trailerMax := d.cfg.TrailerMaxLen
	if trailerMax <= 0 {
		trailerMax = httpbody.DefaultTrailerMaxLen
	}
	if resp.BodyType.Kind == httpbody.KindChunked {
		_ = decodeReader.Trailer(trailerMax)
	}

	state.MarkAll()
	return EndCompleted, state, nil
}

// blameUpstreamOnly applies the first two blame-table rows: only the
// upstream leg is being watched because the client leg has not started.
func (d *Driver) blameUpstreamOnly(upstream *legTracker) EndState {
	if upstream.HasCache() {
		return EndIcapServerWriteIdle
	}
	return EndHttpUpstreamReadIdle
}

// blameBoth applies all four blame-table rows. Tick resets every watched
// leg's active flag on every tick, including the one that finally
// triggers quit, so upstream.IsActive() is always false by the time this
// runs regardless of which side actually stalled; leg1Finished (whether
// the upstream-read/icap-write transfer has already completed) is the
// signal that survives the reset and actually distinguishes the two
// halves of the table.
func (d *Driver) blameBoth(leg1Finished bool, upstream, client *legTracker) EndState {
	if !leg1Finished {
		if upstream.HasCache() {
			return EndIcapServerWriteIdle
		}
		return EndHttpUpstreamReadIdle
	}
	if client.HasCache() {
		return EndHttpClientWriteIdle
	}
	return EndIcapServerReadIdle
}

// IcapWriter is the minimal io.Writer contract the driver
// needs from the ICAP connection's write half, kept distinct from
// BufReader so a plain net.Conn half satisfies it without extra
// adaptation.
type IcapWriter interface {
	Write(p []byte) (int, error)
}
