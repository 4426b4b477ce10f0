// Package udpsession implements the emulated duplex-stream-over-UDP used
// wherever port_type = UDP but the remote peer is an ordinary UDP socket
// (an internet user hitting a public port, or an existing local UDP
// service) rather than a participant in the tunnel-hop framed-datagram
// protocol (internal/tunneludp). A session demultiplexes one shared
// net.PacketConn by source address on the accept side, and wraps a
// connected net.UDPConn directly on the dial side.
//
// Datagram boundaries are not preserved across a Session: it is read and
// written as a byte stream, matching the "datagram boundaries are not
// guaranteed" note in the design.
package udpsession

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("udpsession: use of closed session")

// Session is a net.Conn-shaped duplex stream over UDP datagrams exchanged
// with a single peer address.
type Session struct {
	mu         sync.Mutex
	localConn  net.PacketConn // shared listening socket (accept side) or a connected net.UDPConn (dial side)
	peer       net.Addr
	owned      bool // true if Close should close localConn (dial side owns its socket)
	readCh     chan []byte
	closed     chan struct{}
	readBuf    []byte
	readDeadl  time.Time
	writeDeadl time.Time
	onClose    func()
}

func newSession(conn net.PacketConn, peer net.Addr, owned bool) *Session {
	return &Session{
		localConn: conn,
		peer:      peer,
		owned:     owned,
		readCh:    make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
}

// deliver feeds one received datagram's payload to the session. Called by
// the Listener's single reader goroutine; never blocks indefinitely thanks
// to the buffered channel, matching the "accept" side's tolerance for a
// slow consumer without stalling other sessions' delivery for long.
func (s *Session) deliver(payload []byte) {
	select {
	case s.readCh <- payload:
	case <-s.closed:
	default:
		// Drop rather than block the shared demux goroutine; UDP offers
		// no delivery guarantee anyway.
	}
}

// Read implements net.Conn. It returns the payload of the next datagram,
// truncated/fit into b like any stream (boundaries are not preserved: a
// caller reading with a small buffer may need multiple Reads to drain one
// datagram's payload).
func (s *Session) Read(b []byte) (int, error) {
	for {
		s.mu.Lock()
		if len(s.readBuf) > 0 {
			n := copy(b, s.readBuf)
			s.readBuf = s.readBuf[n:]
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()

		var timeout <-chan time.Time
		s.mu.Lock()
		dl := s.readDeadl
		s.mu.Unlock()
		if !dl.IsZero() {
			timer := time.NewTimer(time.Until(dl))
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case payload, ok := <-s.readCh:
			if !ok {
				return 0, ErrClosed
			}
			s.mu.Lock()
			s.readBuf = payload
			s.mu.Unlock()
		case <-s.closed:
			return 0, ErrClosed
		case <-timeout:
			return 0, timeoutError{}
		}
	}
}

// Write implements net.Conn, sending b whole as one datagram to the peer.
func (s *Session) Write(b []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, ErrClosed
	default:
	}
	// A dial-side session owns a connected socket, which rejects WriteTo.
	if c, ok := s.localConn.(*net.UDPConn); ok && s.owned {
		return c.Write(b)
	}
	return s.localConn.WriteTo(b, s.peer)
}

// Close releases the session. On the dial side (owned) this closes the
// underlying socket; on the accept side the shared listening socket outlives
// any one session and is left open.
func (s *Session) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
		close(s.closed)
	}
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose()
	}
	if s.owned {
		return s.localConn.Close()
	}
	return nil
}

func (s *Session) LocalAddr() net.Addr  { return s.localConn.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.peer }

func (s *Session) SetDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadl, s.writeDeadl = t, t
	s.mu.Unlock()
	return nil
}

func (s *Session) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadl = t
	s.mu.Unlock()
	return nil
}

func (s *Session) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadl = t
	s.mu.Unlock()
	return nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "udpsession: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Dial opens the dial-side of an emulated UDP stream toward addr: a fresh,
// exclusively-owned UDP socket connected to addr.
func Dial(ctx context.Context, addr string) (*Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	s := newSession(conn, raddr, true)
	go s.readLoop(conn)
	return s, nil
}

// readLoop pumps datagrams from the dial side's own connected socket into
// the session, the dial-side analogue of Listener.readLoop's shared-socket
// demux (here there is only ever one peer, so no demux table is needed).
func (s *Session) readLoop(conn net.PacketConn) {
	buf := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.deliver(payload)
	}
}
