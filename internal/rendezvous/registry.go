// Package rendezvous implements the per-public-port mailbox where the
// control listener deposits client-initiated tunnel streams for a port
// worker's handler goroutines to pick up.
//
// There is no off-the-shelf unbounded MPMC queue in the retrieved corpus, so
// this follows the concurrency idiom beacon itself uses for its own
// registry (internal/responder/registry_test.go: a sync.RWMutex-guarded
// map) for the port->mailbox map, and backs each mailbox with the shared
// equeue.Queue primitive so Recv is cancel-safe via context.
package rendezvous

import (
	"context"
	"errors"
	"sync"

	"github.com/localforwarder/local-forwarder/internal/equeue"
	"github.com/localforwarder/local-forwarder/internal/stream"
)

// ErrNoSuchPort is returned by Send when no mailbox exists for the given
// port (the public port is not currently advertised).
var ErrNoSuchPort = errors.New("rendezvous: no mailbox for this port")

// ErrMailboxClosed is returned by Recv when the mailbox it was waiting on
// was removed (a reconfiguration tore down the port worker that owned it).
var ErrMailboxClosed = errors.New("rendezvous: mailbox closed")

// Registry maps a public port to its mailbox. One Registry is shared by a
// server's control listener (which Sends) and its port workers (which
// Recv). The map itself is guarded by a single RWMutex; each mailbox has
// its own internal mutex so readers never hold the registry lock across a
// blocking Recv.
type Registry struct {
	mu        sync.RWMutex
	mailboxes map[uint16]*mailbox
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mailboxes: make(map[uint16]*mailbox)}
}

// Create allocates a fresh mailbox for port, replacing (and dropping) any
// prior mailbox for the same port.
func (r *Registry) Create(port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.mailboxes[port]; ok {
		old.close()
	}
	r.mailboxes[port] = newMailbox()
}

// Remove drops the mailbox for port, closing it and any streams still
// enqueued in it.
func (r *Registry) Remove(port uint16) {
	r.mu.Lock()
	mb, ok := r.mailboxes[port]
	delete(r.mailboxes, port)
	r.mu.Unlock()
	if ok {
		mb.close()
	}
}

// RemoveAll drops every mailbox currently registered, closing each of them.
// Called at the start of a reconfiguration (§4.5 step 2): prior mailboxes
// and their pending streams are dropped unconditionally.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	old := r.mailboxes
	r.mailboxes = make(map[uint16]*mailbox)
	r.mu.Unlock()
	for _, mb := range old {
		mb.close()
	}
}

// Send enqueues s on port's mailbox. It never blocks. It returns
// ErrNoSuchPort if no mailbox is registered for port, in which case the
// caller (the control listener) is expected to close s itself.
func (r *Registry) Send(port uint16, s *stream.Stream) error {
	r.mu.RLock()
	mb, ok := r.mailboxes[port]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSuchPort
	}
	return mb.send(s)
}

// Recv waits for the next stream enqueued on port's mailbox, or for ctx to
// be done, or for the mailbox to be closed out from under it by a
// reconfiguration. Multiple goroutines may Recv concurrently on the same
// port; delivery is FIFO but pairing with "the nth accepted user" only
// holds in expectation, per spec.
func (r *Registry) Recv(ctx context.Context, port uint16) (*stream.Stream, error) {
	r.mu.RLock()
	mb, ok := r.mailboxes[port]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchPort
	}
	return mb.recv(ctx)
}

// mailbox is an unbounded FIFO queue of streams with a cancel-safe Recv,
// backed by equeue.Queue. A small wrapper rather than a bare Queue so that
// draining on close can Shutdown each abandoned stream and so ok/closed
// maps onto ErrMailboxClosed at this package's boundary.
type mailbox struct {
	q *equeue.Queue[*stream.Stream]
}

func newMailbox() *mailbox {
	return &mailbox{q: equeue.New[*stream.Stream]()}
}

func (mb *mailbox) send(s *stream.Stream) error {
	if !mb.q.Push(s) {
		return ErrMailboxClosed
	}
	return nil
}

func (mb *mailbox) recv(ctx context.Context) (*stream.Stream, error) {
	s, ok := mb.q.Pop(ctx)
	if ok {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrMailboxClosed
}

// close marks the mailbox closed and drops (closing) any enqueued streams.
// Pending Recv calls observe ErrMailboxClosed on their next wake.
func (mb *mailbox) close() {
	mb.q.Close(func(s *stream.Stream) { _ = s.Shutdown() })
}
