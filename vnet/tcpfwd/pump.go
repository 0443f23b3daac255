// Package tcpfwd implements the plain full-duplex TCP relay used by the
// forward and transparent proxy modes, where no HTTP/ICAP adaptation is
// in play and bytes simply flow both directions until one side closes.
package tcpfwd

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/h1skaak/g3goproxy/streamcopy"
)

// FullDuplexConn is a net.Conn that supports independent half-close of
// each direction, required so one leg finishing doesn't force-close the
// still-draining other leg.
type FullDuplexConn interface {
	net.Conn
	CloseRead() error
	CloseWrite() error
}

func pump1(errc chan<- error, src, dst FullDuplexConn, cfg streamcopy.Config) {
	defer func() {
		if err := recover(); err != nil {
			errc <- fmt.Errorf("tcpfwd: pump panic: %v", err)
		}
	}()

	_, err := streamcopy.New(dst, src, cfg).Run()

	// half-close to let the still-open direction drain normally
	dst.CloseWrite()
	src.CloseRead()

	errc <- err
}

// Relay copies bytes in both directions between c1 and c2 until both
// legs finish, logging (but not returning) each leg's error so the
// caller always observes a clean return once both pumps have exited.
func Relay(c1, c2 FullDuplexConn, cfg streamcopy.Config) {
	errChan := make(chan error, 2)
	go pump1(errChan, c1, c2, cfg)
	go pump1(errChan, c2, c1, cfg)

	if err1 := <-errChan; err1 != nil {
		logrus.WithError(err1).Debug("tcpfwd: relay leg ended with error")
	}
	if err2 := <-errChan; err2 != nil {
		logrus.WithError(err2).Debug("tcpfwd: relay leg ended with error")
	}
}
