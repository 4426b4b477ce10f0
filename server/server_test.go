package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforwarder/local-forwarder/internal/wire"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// freePort asks the OS for an unused TCP port on 127.0.0.1 and releases it
// immediately; good enough for tests that need to pick an address before
// the real listener (which may bind both TCP and UDP) comes up.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func startServer(t *testing.T, code wire.Code, opts ...Option) (controlAddr string) {
	t.Helper()
	controlPort := freePort(t)
	controlAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(controlPort))

	allOpts := append([]Option{WithLogger(testLogger())}, opts...)
	s := New(code, allOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, controlAddr) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down in time")
		}
	})

	waitForDial(t, controlAddr)
	return controlAddr
}

// waitForDial polls addr until a TCP dial succeeds or the deadline passes.
func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never able to dial %s", addr)
}

func publish(t *testing.T, controlAddr string, code wire.Code, pm wire.PortMap) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", controlAddr)
	require.NoError(t, err)
	require.NoError(t, wire.WritePublishFrame(conn, code, pm))
	return conn
}

// serveOneEcho waits for exactly one port notification on controlConn, dials
// back a tunnel stream for it, then echoes "ping"->"pong" directly on the
// tunnel socket (standing in for a spliced local target, since this test
// exercises only the server side of the protocol).
func serveOneEcho(t *testing.T, controlAddr string, code wire.Code, controlConn net.Conn) {
	// Runs on its own goroutine in every caller, so it must use the
	// non-fatal assert family: testify's require (like t.Fatal) is only
	// safe to call from the goroutine running the Test function itself.
	t.Helper()
	portRemote, err := wire.ReadPortNotification(controlConn)
	if !assert.NoError(t, err) {
		return
	}

	tunnelConn, err := net.Dial("tcp", controlAddr)
	if !assert.NoError(t, err) {
		return
	}
	defer tunnelConn.Close()
	if !assert.NoError(t, wire.WriteTunnelFrame(tunnelConn, portRemote, code)) {
		return
	}

	buf := make([]byte, 4)
	_, err = io.ReadFull(tunnelConn, buf)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "ping", string(buf))
	_, err = tunnelConn.Write([]byte("pong"))
	assert.NoError(t, err)
	// Give the splice a moment to deliver before the deferred Close fires.
	time.Sleep(50 * time.Millisecond)
}

// absorbProbe serves the port notification caused by a successful probe dial
// on a public port: the probe is itself an accepted user connection, so its
// handler also waits for a tunnel stream. The helper dials one back and
// waits until the server has spliced it with the already-closed probe and
// closed it, so the probe's handler cannot take the tunnel meant for the
// test's real user connection. Called only from the Test goroutine.
func absorbProbe(t *testing.T, controlAddr string, code wire.Code, controlConn net.Conn) {
	t.Helper()
	portRemote, err := wire.ReadPortNotification(controlConn)
	require.NoError(t, err)

	tunnelConn, err := net.Dial("tcp", controlAddr)
	require.NoError(t, err)
	defer tunnelConn.Close()
	require.NoError(t, wire.WriteTunnelFrame(tunnelConn, portRemote, code))

	_ = tunnelConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _ = io.Copy(io.Discard, tunnelConn)
}

func TestServer_TCPEcho_SingleUser(t *testing.T) {
	code := wire.Code{0xDE, 0xAD}
	controlAddr := startServer(t, code, WithReconfigureGrace(10*time.Millisecond))

	publicPort := freePort(t)
	pm := wire.PortMap{{PortRemote: uint16(publicPort), PortLocal: 0, PortType: wire.TCP, TunnelType: wire.TCP}}
	controlConn := publish(t, controlAddr, code, pm)
	defer controlConn.Close()

	userAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(publicPort))
	waitForDial(t, userAddr)
	absorbProbe(t, controlAddr, code, controlConn)

	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		serveOneEcho(t, controlAddr, code, controlConn)
	}()

	userConn, err := net.Dial("tcp", userAddr)
	require.NoError(t, err)
	defer userConn.Close()

	_, err = userConn.Write([]byte("ping"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	_ = userConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(userConn, reply)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply))

	<-echoDone
}

func TestServer_UnknownPortDialback(t *testing.T) {
	code := wire.Code{0x01}
	controlAddr := startServer(t, code)

	conn, err := net.Dial("tcp", controlAddr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteTunnelFrame(conn, 9999, code))

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "expected connection to be closed for unknown port")
	if ne, ok := err.(net.Error); ok {
		require.False(t, ne.Timeout(), "server never closed connection for unknown port dial-back")
	}
}

func TestServer_WrongCode_DoesNotDisturbExistingSession(t *testing.T) {
	goodCode := wire.Code{0xAA}
	badCode := wire.Code{0xBB}
	controlAddr := startServer(t, goodCode)

	publicPort := freePort(t)
	pm := wire.PortMap{{PortRemote: uint16(publicPort), PortType: wire.TCP, TunnelType: wire.TCP}}
	controlConn := publish(t, controlAddr, goodCode, pm)
	defer controlConn.Close()

	waitForDial(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(publicPort)))

	// A wrong-code publish must be dropped silently without disturbing the
	// good session above.
	bad, err := net.Dial("tcp", controlAddr)
	require.NoError(t, err)
	require.NoError(t, wire.WritePublishFrame(bad, badCode, pm))
	_ = bad.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = bad.Read(make([]byte, 1))
	require.Error(t, err, "expected wrong-code publish connection to be closed")
	bad.Close()

	// The good session's port worker must still be listening.
	userAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(publicPort))
	conn, err := net.DialTimeout("tcp", userAddr, 500*time.Millisecond)
	require.NoError(t, err, "good session's port worker should still be listening")
	conn.Close()
}

func TestServer_MailboxTimeout(t *testing.T) {
	code := wire.Code{0x42}
	controlAddr := startServer(t, code, WithMailboxTimeout(150*time.Millisecond))

	publicPort := freePort(t)
	pm := wire.PortMap{{PortRemote: uint16(publicPort), PortType: wire.TCP, TunnelType: wire.TCP}}
	controlConn := publish(t, controlAddr, code, pm)
	defer controlConn.Close()

	userAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(publicPort))
	waitForDial(t, userAddr)

	start := time.Now()
	userConn, err := net.Dial("tcp", userAddr)
	require.NoError(t, err)
	defer userConn.Close()

	// No tunnel stream will ever be dialed back; the server must close the
	// user connection once its mailbox wait expires.
	_ = userConn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, err = userConn.Read(make([]byte, 1))
	elapsed := time.Since(start)
	require.Error(t, err, "expected user connection to be closed after mailbox timeout")
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestServer_ReconnectAndReconfigure(t *testing.T) {
	code := wire.Code{0x07}
	controlAddr := startServer(t, code, WithReconfigureGrace(20*time.Millisecond))

	portA := freePort(t)
	portB := freePort(t)

	pmA := wire.PortMap{{PortRemote: uint16(portA), PortType: wire.TCP, TunnelType: wire.TCP}}
	connA := publish(t, controlAddr, code, pmA)
	waitForDial(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(portA)))

	// Reconfigure: a new publish replaces port A's worker with port B's.
	pmB := wire.PortMap{{PortRemote: uint16(portB), PortType: wire.TCP, TunnelType: wire.TCP}}
	connB := publish(t, controlAddr, code, pmB)
	defer connB.Close()
	connA.Close()

	// Port B must come up (whether port A stopped accepting is not checked
	// here).
	deadline := time.Now().Add(2 * time.Second)
	var bUp bool
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(portB)), 50*time.Millisecond); err == nil {
			conn.Close()
			bUp = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, bUp, "port B never came up after reconfiguration")
	absorbProbe(t, controlAddr, code, connB)

	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		serveOneEcho(t, controlAddr, code, connB)
	}()

	userConn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(portB)))
	require.NoError(t, err)
	defer userConn.Close()
	_, err = userConn.Write([]byte("ping"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	_ = userConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(userConn, reply)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply))
	<-echoDone
}
