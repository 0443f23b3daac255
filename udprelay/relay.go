package udprelay

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/h1skaak/g3goproxy/syncx"
)

// ConnTrackTimeout bounds how long an idle upstream association is kept
// before its socket is closed and the entry evicted.
const ConnTrackTimeout = 30 * time.Second

const relayBufferSize = 64 * 1024

// DefaultMaxAssociations bounds how many concurrent client-source →
// upstream associations a Relay will track at once, guarding against a
// source flood opening unbounded upstream sockets.
const DefaultMaxAssociations = 8192

// Dialer opens the upstream connection a newly seen client source
// address should be relayed to. The returned net.Conn is read and
// written exclusively by the Relay that dialed it.
type Dialer func(from *net.UDPAddr) (net.Conn, error)

type trackKey struct {
	addr netip.Addr
	port int
}

func newTrackKey(addr *net.UDPAddr) (trackKey, bool) {
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return trackKey{}, false
	}
	return trackKey{addr: ip.Unmap(), port: addr.Port}, true
}

type trackEntry struct {
	conn net.Conn
}

// Relay forwards datagrams between a single UdpRelayEndpoint and a set
// of per-client-source upstream connections opened on demand, evicting
// an association once its reply leg has been quiet for ConnTrackTimeout.
// It is the connection-tracking orchestration built on top of Endpoint's
// raw dual-family receive/send.
type Relay struct {
	endpoint *Endpoint
	dial     Dialer
	sem      *semaphore.Weighted

	mu    syncx.Mutex
	table map[trackKey]*trackEntry
}

// NewRelay builds a Relay reading and writing through endpoint, dialing
// new upstreams via dial as previously unseen client source addresses
// arrive. maxAssociations bounds how many such associations may be
// tracked concurrently; 0 selects DefaultMaxAssociations.
func NewRelay(endpoint *Endpoint, dial Dialer, maxAssociations int64) *Relay {
	if maxAssociations <= 0 {
		maxAssociations = DefaultMaxAssociations
	}
	return &Relay{
		endpoint: endpoint,
		dial:     dial,
		sem:      semaphore.NewWeighted(maxAssociations),
		table:    make(map[trackKey]*trackEntry),
	}
}

// Run reads client datagrams until ctx is cancelled or the endpoint is
// closed, dispatching each to its tracked (or newly dialed) upstream
// connection. It returns once the receive loop ends; in-flight reply
// pumps drain and close their own entries independently.
func (r *Relay) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.endpoint.Close()
	}()

	buf := make([]byte, relayBufferSize)
	for {
		n, from, err := r.endpoint.Recv(buf)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}

		key, ok := newTrackKey(from)
		if !ok {
			continue
		}

		r.mu.Lock()
		entry, hit := r.table[key]
		if !hit {
			if !r.sem.TryAcquire(1) {
				r.mu.Unlock()
				logrus.WithField("from", from).Warn("udprelay: association limit reached, dropping datagram")
				continue
			}
			conn, dialErr := r.dial(from)
			if dialErr != nil {
				r.sem.Release(1)
				r.mu.Unlock()
				logrus.WithError(dialErr).WithField("from", from).Warn("udprelay: dial upstream failed")
				continue
			}
			entry = &trackEntry{conn: conn}
			r.table[key] = entry
			go r.replyPump(key, entry, from)
		}
		r.mu.Unlock()

		_ = entry.conn.SetWriteDeadline(time.Now().Add(ConnTrackTimeout))
		if _, err := entry.conn.Write(buf[:n]); err != nil {
			logrus.WithError(err).WithField("from", from).Debug("udprelay: write to upstream failed")
		}
	}
}

// replyPump copies datagrams from one upstream connection back to the
// original client source address until the upstream goes idle for
// ConnTrackTimeout or errors, then evicts the association.
func (r *Relay) replyPump(key trackKey, entry *trackEntry, clientAddr *net.UDPAddr) {
	defer func() {
		r.mu.Lock()
		delete(r.table, key)
		r.mu.Unlock()
		entry.conn.Close()
		r.sem.Release(1)
	}()

	buf := make([]byte, relayBufferSize)
	for {
		_ = entry.conn.SetReadDeadline(time.Now().Add(ConnTrackTimeout))
		n, err := entry.conn.Read(buf)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
				continue
			}
			return
		}
		if _, err := r.endpoint.SendTo(buf[:n], clientAddr); err != nil {
			return
		}
	}
}

// Close tears down the endpoint and every tracked upstream connection.
func (r *Relay) Close() error {
	err := r.endpoint.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.table {
		entry.conn.Close()
		delete(r.table, key)
	}
	return err
}
