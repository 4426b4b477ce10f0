package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/localforwarder/local-forwarder/internal/sockopt"
	"github.com/localforwarder/local-forwarder/internal/stream"
	"github.com/localforwarder/local-forwarder/internal/udpsession"
	"github.com/localforwarder/local-forwarder/internal/wire"
)

// workerSupervisor owns every port worker spawned by one reconfiguration
// generation (§9's "Supervisor object owned by the control-listener task"
// in place of a process-wide task list).
type workerSupervisor struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
	dones   []chan struct{}
}

func newWorkerSupervisor() *workerSupervisor {
	return &workerSupervisor{}
}

// spawn starts one port worker for mapping m, scoped to parent.
func (ws *workerSupervisor) spawn(parent context.Context, s *Server, m wire.PortMapping) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	ws.mu.Lock()
	ws.cancels = append(ws.cancels, cancel)
	ws.dones = append(ws.dones, done)
	ws.mu.Unlock()

	go func() {
		defer close(done)
		switch m.PortType {
		case wire.UDP:
			s.runUDPWorker(ctx, m)
		default:
			s.runTCPWorker(ctx, m)
		}
	}()
}

// stopAndWait aborts every worker owned by ws, waits for them all to exit,
// then additionally waits grace so their listening sockets can fully
// release their port numbers before a successor worker rebinds it.
func (ws *workerSupervisor) stopAndWait(grace time.Duration) {
	ws.mu.Lock()
	cancels := ws.cancels
	dones := ws.dones
	ws.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, done := range dones {
		<-done
	}
	if grace > 0 {
		time.Sleep(grace)
	}
}

// notifyCurrentSession pushes portRemote onto whatever control session is
// live right now, a no-op if none is (the session can only be nil for the
// brief window between a teardown and the next publish's fresh session). ctx
// is the calling port worker's own lifetime context: reconfigure() always
// cancels a generation's worker contexts (step 3) before installing the
// successor session (step 5), so a ctx already canceled by the time the lock
// is acquired means this call is a leftover from a torn-down generation —
// skip it rather than queuing a prior generation's port on the new session's
// wire (§8).
func (s *Server) notifyCurrentSession(ctx context.Context, portRemote uint16) {
	s.mu.Lock()
	session := s.session
	stale := ctx.Err() != nil
	s.mu.Unlock()
	if session != nil && !stale {
		session.notify(portRemote)
	}
}

// handleUserConn is shared by the TCP and UDP worker loops: notify the
// control session, await a tunnel stream from the mailbox with
// s.mailboxTimeout, then splice. ctx is the worker's own lifetime context:
// canceling it (reconfiguration) tears down any in-flight splice too.
func (s *Server) handleUserConn(ctx context.Context, m wire.PortMapping, userStream *stream.Stream) {
	s.notifyCurrentSession(ctx, m.PortRemote)

	waitCtx, cancel := context.WithTimeout(ctx, s.mailboxTimeout)
	tunnelStream, err := s.registry.Recv(waitCtx, m.PortRemote)
	cancel()
	if err != nil {
		s.log.WithField("port", m.PortRemote).Debug("port worker: mailbox wait expired, closing user connection")
		_ = userStream.Shutdown()
		return
	}

	if err := stream.CopyBidirectional(ctx, userStream, tunnelStream); err != nil {
		s.log.WithError(err).WithField("port", m.PortRemote).Debug("port worker: splice ended with error")
	}
}

// runTCPWorker implements the TCP half of §4.5's port worker: bind, accept
// loop, spawn one handler per accepted user connection. A bind or accept
// failure restarts the listener after s.workerRestartDelay; the worker
// exits only when ctx is canceled.
func (s *Server) runTCPWorker(ctx context.Context, m wire.PortMapping) {
	addr := fmt.Sprintf("0.0.0.0:%d", m.PortRemote)
	lc := sockopt.ListenConfig()

	for {
		if ctx.Err() != nil {
			return
		}

		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			s.log.WithError(err).WithField("port", m.PortRemote).Warn("port worker: bind failed, retrying")
			if !sleepOrDone(ctx, s.workerRestartDelay) {
				return
			}
			continue
		}
		// One misbehaving public port must not exhaust file descriptors
		// for every other port worker sharing this process.
		ln = netutil.LimitListener(ln, s.maxConnsPerPort)

		s.acceptTCPLoop(ctx, ln, m)
		_ = ln.Close()

		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, s.workerRestartDelay) {
			return
		}
	}
}

func (s *Server) acceptTCPLoop(ctx context.Context, ln net.Listener, m wire.PortMapping) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).WithField("port", m.PortRemote).Debug("port worker: accept error")
			return
		}
		go s.handleUserConn(ctx, m, stream.New(conn, stream.CarrierTCP))
	}
}

// runUDPWorker is the UDP analogue of runTCPWorker: an emulated-stream
// listener (internal/udpsession) stands in for net.Listener, and each
// first-seen peer address is one "accepted" user connection.
func (s *Server) runUDPWorker(ctx context.Context, m wire.PortMapping) {
	addr := fmt.Sprintf("0.0.0.0:%d", m.PortRemote)

	for {
		if ctx.Err() != nil {
			return
		}

		ln, err := udpsession.Listen(addr)
		if err != nil {
			s.log.WithError(err).WithField("port", m.PortRemote).Warn("port worker: udp bind failed, retrying")
			if !sleepOrDone(ctx, s.workerRestartDelay) {
				return
			}
			continue
		}

		s.acceptUDPLoop(ctx, ln, m)
		_ = ln.Close()

		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, s.workerRestartDelay) {
			return
		}
	}
}

func (s *Server) acceptUDPLoop(ctx context.Context, ln *udpsession.Listener, m wire.PortMapping) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	for {
		sess, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).WithField("port", m.PortRemote).Debug("port worker: udp accept error")
			return
		}
		go s.handleUserConn(ctx, m, stream.New(sess, stream.CarrierUDPAccept))
	}
}

// sleepOrDone sleeps d, returning false early (without having slept) if ctx
// is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
