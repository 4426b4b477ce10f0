package server

import (
	"context"
	"net"

	"github.com/localforwarder/local-forwarder/internal/equeue"
	"github.com/localforwarder/local-forwarder/internal/wire"
)

// controlSession is the one live authenticated control connection (§3's
// ControlSession): the socket the publishing client used, an unbounded
// egress queue of port notifications fed by port workers, and the writer
// goroutine draining that queue onto the socket.
type controlSession struct {
	conn   net.Conn
	egress *equeue.Queue[uint16]

	cancel context.CancelFunc
	done   chan struct{}
}

func newControlSession(conn net.Conn) *controlSession {
	return &controlSession{
		conn:   conn,
		egress: equeue.New[uint16](),
		done:   make(chan struct{}),
	}
}

// notify enqueues a port notification for the writer goroutine. Called by a
// port worker the moment it accepts a user connection.
func (cs *controlSession) notify(portRemote uint16) {
	cs.egress.Push(portRemote)
}

// runWriter drains egress onto the control socket as successive big-endian
// u16s until ctx is done, the queue is closed, or a write fails (§4.5 step
// 5); on exit the egress queue is closed and the socket shut.
func (cs *controlSession) runWriter(ctx context.Context) {
	defer close(cs.done)
	defer cs.egress.Close(nil)
	defer cs.conn.Close()

	for {
		port, ok := cs.egress.Pop(ctx)
		if !ok {
			return
		}
		if err := wire.WritePortNotification(cs.conn, port); err != nil {
			return
		}
	}
}

// abort stops the writer goroutine (if still running) and waits for it to
// exit, closing the underlying control socket in the process.
func (cs *controlSession) abort() {
	if cs.cancel != nil {
		cs.cancel()
	}
	<-cs.done
}

// reconfigure implements §4.5's reconfiguration sequence. conn is the TCP
// connection the new publish frame arrived on; it becomes the new control
// session's socket. pm is the freshly decoded PortMap.
func (s *Server) reconfigure(parent context.Context, conn net.Conn, pm wire.PortMap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Step 1: abort the previous control writer task, if any.
	if s.session != nil {
		s.session.abort()
	}

	// Step 2: drop old mailboxes and their pending streams unconditionally.
	s.registry.RemoveAll()

	// Step 3: abort previous port workers and let their listeners release
	// their ports before new ones bind on the same numbers.
	if s.workers != nil {
		s.workers.stopAndWait(s.reconfigureGrace)
	}

	// Step 4: fresh mailbox + worker per advertised mapping.
	workers := newWorkerSupervisor()
	for _, m := range pm {
		s.registry.Create(m.PortRemote)
		workers.spawn(parent, s, m)
	}
	s.workers = workers

	// Step 5: new control writer, draining the new session's egress queue.
	session := newControlSession(conn)
	ctx, cancel := context.WithCancel(parent)
	session.cancel = cancel
	s.session = session
	go session.runWriter(ctx)
}
