package server

import (
	"context"
	"net"

	"github.com/localforwarder/local-forwarder/internal/stream"
	"github.com/localforwarder/local-forwarder/internal/wire"
)

// handleTCPConn is reached for every inbound TCP connection on the control
// port: it may be a publish (a new control session) or a tunnel dial-back.
// Only TCP connections may publish (§4.4: "the UDP listener rejects publish
// frames; publishes are TCP-only").
func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn) {
	s.handleConn(ctx, conn)
}

// handleTunnelConn is reached for every inbound UDP tunnel session on the
// control port. Such a session can never be a publish.
func (s *Server) handleTunnelConn(conn net.Conn, carrier stream.Carrier) {
	header, err := wire.ReadHeader(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	if header.Code != s.code {
		s.log.Debug("control: udp tunnel auth failure")
		_ = conn.Close()
		return
	}
	if header.IsPublish() {
		// §4.4/§9(c): UDP publishes are rejected outright.
		s.log.Debug("control: rejecting publish frame received over udp")
		_ = conn.Close()
		return
	}
	s.routeTunnel(header.PortRemote, stream.New(conn, carrier))
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	header, err := wire.ReadHeader(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	if header.Code != s.code {
		s.log.Debug("control: auth failure")
		_ = conn.Close()
		return
	}

	if header.IsPublish() {
		pm, err := wire.ReadPublishBody(conn)
		if err != nil {
			// §7: publish deserialization error drops the session and does
			// not replace prior state.
			s.log.WithError(err).Debug("control: publish deserialization error")
			_ = conn.Close()
			return
		}
		s.reconfigure(ctx, conn, pm)
		return
	}

	s.routeTunnel(header.PortRemote, stream.New(conn, stream.CarrierTCP))
}

// routeTunnel looks up the mailbox for portRemote and deposits st, closing
// st if there is no such mailbox (unknown port, §4.4 edge case).
func (s *Server) routeTunnel(portRemote uint16, st *stream.Stream) {
	if err := s.registry.Send(portRemote, st); err != nil {
		_ = st.Shutdown()
	}
}
