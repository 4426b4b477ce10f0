// Package server implements the public-facing half of the tunnel: the
// fixed control listener (§4.4), the per-publish session reconfiguration
// (§4.5), and the port workers that accept user traffic and pair it with
// client-initiated tunnel streams via the rendezvous registry.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/localforwarder/local-forwarder/internal/rendezvous"
	"github.com/localforwarder/local-forwarder/internal/sockopt"
	"github.com/localforwarder/local-forwarder/internal/stream"
	"github.com/localforwarder/local-forwarder/internal/tunneludp"
	"github.com/localforwarder/local-forwarder/internal/wire"
)

// Defaults for the knobs §4.5/§5 name explicitly.
const (
	// MailboxTimeout bounds how long a port-worker handler waits for a
	// tunnel stream before giving up on the user connection (§5).
	MailboxTimeout = 1 * time.Second
	// WorkerRestartDelay is how long a port worker sleeps after a bind or
	// accept failure before retrying (§4.5's state machine).
	WorkerRestartDelay = 100 * time.Millisecond
	// ReconfigureGrace is the short delay §4.5 step 3 allows prior port
	// workers' listeners to release their ports before new ones bind.
	ReconfigureGrace = 100 * time.Millisecond
	// DefaultMaxConnsPerPort caps the TCP connections open at once on any
	// one public port (accepted and not yet closed, including those being
	// spliced), so a single saturated port can't
	// starve file descriptors for the rest of the process.
	DefaultMaxConnsPerPort = 4096
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the server's logger (default: logrus.New()).
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMailboxTimeout overrides MailboxTimeout; used by tests that want
// sub-second deadlines.
func WithMailboxTimeout(d time.Duration) Option {
	return func(s *Server) { s.mailboxTimeout = d }
}

// WithWorkerRestartDelay overrides WorkerRestartDelay; used by tests.
func WithWorkerRestartDelay(d time.Duration) Option {
	return func(s *Server) { s.workerRestartDelay = d }
}

// WithReconfigureGrace overrides ReconfigureGrace; used by tests.
func WithReconfigureGrace(d time.Duration) Option {
	return func(s *Server) { s.reconfigureGrace = d }
}

// WithMaxConnsPerPort overrides DefaultMaxConnsPerPort.
func WithMaxConnsPerPort(n int) Option {
	return func(s *Server) { s.maxConnsPerPort = n }
}

// Server is the core tunnel server: one fixed control listener plus
// whatever port workers the most recent authenticated publish advertised.
type Server struct {
	code wire.Code
	log  *logrus.Logger

	mailboxTimeout     time.Duration
	workerRestartDelay time.Duration
	reconfigureGrace   time.Duration
	maxConnsPerPort    int

	registry *rendezvous.Registry

	mu      sync.Mutex
	session *controlSession
	workers *workerSupervisor
}

// New builds a Server authenticating against code. ListenAndServe must be
// called to actually start accepting connections.
func New(code wire.Code, opts ...Option) *Server {
	s := &Server{
		code:               code,
		log:                logrus.New(),
		mailboxTimeout:     MailboxTimeout,
		workerRestartDelay: WorkerRestartDelay,
		reconfigureGrace:   ReconfigureGrace,
		maxConnsPerPort:    DefaultMaxConnsPerPort,
		registry:           rendezvous.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds the fixed control port on both TCP and UDP and
// serves until ctx is done, returning nil on a clean shutdown. Both
// listeners are closed before ListenAndServe returns.
func (s *Server) ListenAndServe(ctx context.Context, controlAddr string) error {
	lc := sockopt.ListenConfig()
	tcpLn, err := lc.Listen(ctx, "tcp", controlAddr)
	if err != nil {
		return err
	}

	udpLn, err := tunneludp.Listen(controlAddr)
	if err != nil {
		_ = tcpLn.Close()
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.acceptTCP(ctx, tcpLn) }()
	go func() { defer wg.Done(); s.acceptUDP(ctx, udpLn) }()

	<-ctx.Done()
	_ = tcpLn.Close()
	_ = udpLn.Close()
	wg.Wait()

	s.mu.Lock()
	session := s.session
	workers := s.workers
	s.mu.Unlock()
	if session != nil {
		session.abort()
	}
	if workers != nil {
		workers.stopAndWait(0)
	}
	s.registry.RemoveAll()

	return nil
}

func (s *Server) acceptTCP(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Debug("control: tcp accept error")
			time.Sleep(s.workerRestartDelay)
			continue
		}
		go s.handleTCPConn(ctx, conn)
	}
}

func (s *Server) acceptUDP(ctx context.Context, ln *kcp.Listener) {
	for {
		conn, err := tunneludp.Accept(ln)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Debug("control: udp accept error")
			time.Sleep(s.workerRestartDelay)
			continue
		}
		// Publish frames are TCP-only (§4.4); every inbound UDP session on
		// the control port is necessarily a tunnel dial-back.
		go s.handleTunnelConn(conn, stream.CarrierUDPAccept)
	}
}
