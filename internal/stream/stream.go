// Package stream implements the uniform duplex byte abstraction the
// rendezvous engine and the client splice operate over, unifying TCP
// sockets and the emulated/framed UDP carriers behind one interface.
package stream

import (
	"net"
	"time"
)

// Carrier tags which concrete transport backs a Stream.
type Carrier uint8

const (
	// CarrierTCP wraps a plain TCP connection.
	CarrierTCP Carrier = iota
	// CarrierUDPAccept wraps the server side of an emulated UDP stream
	// (internal/udpsession, accept-side) or a dialed tunneludp session
	// accepted from a client.
	CarrierUDPAccept
	// CarrierUDPDial wraps the client side of an emulated UDP stream
	// (internal/udpsession, dial-side) or a dialed tunneludp session.
	CarrierUDPDial
)

// String implements fmt.Stringer for logging.
func (c Carrier) String() string {
	switch c {
	case CarrierTCP:
		return "tcp"
	case CarrierUDPAccept:
		return "udp-accept"
	case CarrierUDPDial:
		return "udp-dial"
	default:
		return "unknown"
	}
}

// halfCloser is implemented by carriers that support independently closing
// one direction of the stream (e.g. *net.TCPConn). Carriers without it fall
// back to a full Close on Shutdown.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Stream is a net.Conn tagged with the carrier that backs it. It is the
// variant type described by the tunnel's design: TCP, UDP-local-accept-side,
// and UDP-remote-dial-side all satisfy net.Conn already, so Stream adds only
// the tag and a best-effort graceful Shutdown.
type Stream struct {
	net.Conn
	Carrier Carrier
}

// New tags conn with carrier.
func New(conn net.Conn, carrier Carrier) *Stream {
	return &Stream{Conn: conn, Carrier: carrier}
}

// Shutdown closes the stream. If the underlying carrier supports half-close,
// both halves are closed before the full Close, matching the "shut down"
// verb in the spec's read/write/flush/shutdown surface; carriers that don't
// support half-close (UDP sessions) just get a full Close.
func (s *Stream) Shutdown() error {
	if hc, ok := s.Conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	return s.Conn.Close()
}

// SetIdleDeadline is a convenience used by the UDP splice path (§5's 10s
// idle timeout): it pushes the read deadline out by d from now, nil-safe for
// carriers whose underlying conn always supports deadlines (all of ours do).
func (s *Stream) SetIdleDeadline(d time.Duration) error {
	if d <= 0 {
		return s.Conn.SetReadDeadline(time.Time{})
	}
	return s.Conn.SetReadDeadline(time.Now().Add(d))
}
