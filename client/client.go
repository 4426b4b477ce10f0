// Package client implements the connector half of the tunnel (§4.6/§4.7):
// a persistent control loop that publishes the local port map and, for
// every port notification the server sends back, dials a fresh tunnel
// stream plus a local target connection and splices them together.
package client

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/localforwarder/local-forwarder/internal/sockopt"
	"github.com/localforwarder/local-forwarder/internal/stream"
	"github.com/localforwarder/local-forwarder/internal/tunneludp"
	"github.com/localforwarder/local-forwarder/internal/udpsession"
	"github.com/localforwarder/local-forwarder/internal/wire"
)

// ReconnectDelay is the constant backoff §4.6 specifies between control
// loop reconnection attempts.
const ReconnectDelay = 100 * time.Millisecond

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the client's logger (default: logrus.New()).
func WithLogger(log *logrus.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithReconnectDelay overrides ReconnectDelay; used by tests.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// Client is the connector: it holds the server address, the shared code,
// and the port map to publish on every (re)connection.
type Client struct {
	connector string
	code      wire.Code
	portMap   wire.PortMap
	log       *logrus.Logger

	reconnectDelay time.Duration
}

// New builds a Client that will connect to connector, authenticate with
// code, and publish portMap.
func New(connector string, code wire.Code, portMap wire.PortMap, opts ...Option) *Client {
	c := &Client{
		connector:      connector,
		code:           code,
		portMap:        portMap,
		log:            logrus.New(),
		reconnectDelay: ReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the control loop until ctx is canceled, reconnecting forever
// on any I/O error per §4.6's reconnection policy. Run returns nil only
// when ctx is canceled; every other exit path is an infinite retry loop.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.WithError(err).Debug("control loop: disconnected, reconnecting")
		}
		if !sleepOrDone(ctx, c.reconnectDelay) {
			return nil
		}
	}
}

// runOnce performs one connect-publish-read cycle. It returns when the
// connection drops (or ctx is canceled), at which point Run reconnects.
func (c *Client) runOnce(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.connector)
	if err != nil {
		return err
	}
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = sockopt.SetNoDelay(tcpConn)
	}

	if err := wire.WritePublishFrame(conn, c.code, c.portMap); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		portRemote, err := wire.ReadPortNotification(conn)
		if err != nil {
			return err
		}
		go c.handleNotification(ctx, portRemote)
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

// handleNotification implements §4.7: look up the mapping, open a tunnel
// stream per tunnel_type and a local-target stream per port_type, then
// splice them until either side closes. Failures here only log; they never
// bring down the control loop.
func (c *Client) handleNotification(ctx context.Context, portRemote uint16) {
	mapping, ok := c.portMap.Lookup(portRemote)
	if !ok {
		c.log.WithField("port", portRemote).Warn("dialback: notification for unknown port, ignoring")
		return
	}

	tunnelStream, err := c.dialTunnel(ctx, mapping)
	if err != nil {
		c.log.WithError(err).WithField("port", portRemote).Warn("dialback: tunnel dial failed")
		return
	}

	localStream, err := c.dialLocal(ctx, mapping)
	if err != nil {
		c.log.WithError(err).WithField("port", portRemote).Warn("dialback: local dial failed")
		_ = tunnelStream.Shutdown()
		return
	}

	if err := stream.CopyBidirectional(ctx, tunnelStream, localStream); err != nil {
		c.log.WithError(err).WithField("port", portRemote).Debug("dialback: splice ended with error")
	}
}

// dialTunnel opens the client->server tunnel leg for mapping and writes its
// 18-byte header (port_remote, code) before returning.
func (c *Client) dialTunnel(ctx context.Context, mapping wire.PortMapping) (*stream.Stream, error) {
	switch mapping.TunnelType {
	case wire.UDP:
		conn, err := tunneludp.Dial(c.connector)
		if err != nil {
			return nil, err
		}
		if err := wire.WriteTunnelFrame(conn, mapping.PortRemote, c.code); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return stream.New(conn, stream.CarrierUDPDial), nil
	default:
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", c.connector)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = sockopt.SetNoDelay(tcpConn)
		}
		if err := wire.WriteTunnelFrame(conn, mapping.PortRemote, c.code); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return stream.New(conn, stream.CarrierTCP), nil
	}
}

// dialLocal opens the client-side local target leg for mapping.
func (c *Client) dialLocal(ctx context.Context, mapping wire.PortMapping) (*stream.Stream, error) {
	addr := net.JoinHostPort(mapping.EffectiveLocalIP(), strconv.Itoa(int(mapping.PortLocal)))

	switch mapping.PortType {
	case wire.UDP:
		sess, err := udpsession.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return stream.New(sess, stream.CarrierUDPDial), nil
	default:
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = sockopt.SetNoDelay(tcpConn)
		}
		return stream.New(conn, stream.CarrierTCP), nil
	}
}
