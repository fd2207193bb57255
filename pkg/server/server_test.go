package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbgp-dev/dbgpd/pkg/config"
	"github.com/dbgp-dev/dbgpd/pkg/wire"
)

const engineInit = `<init xmlns="urn:debugger_protocol_v1" appid="99" idekey="abc"/>`

// fakeIDE accepts relay connections the direct server opens toward its
// static IDE endpoint.
type fakeIDE struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeIDE(t *testing.T) *fakeIDE {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ide := &fakeIDE{ln: ln, conns: make(chan net.Conn, 2)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			ide.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ide
}

func (f *fakeIDE) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("server never dialed the IDE endpoint")
		return nil
	}
}

func startServer(t *testing.T, listenAgain bool) (*Server, *fakeIDE, chan error) {
	t.Helper()
	ide := newFakeIDE(t)

	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.IDEAddress = ide.ln.Addr().String()
	cfg.Server.ListenAgain = listenAgain
	cfg.Timeouts.Handshake = 2 * time.Second
	require.NoError(t, cfg.ValidateServer())

	srv := New(cfg, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return srv, ide, done
}

func TestSingleSessionRunTerminates(t *testing.T) {
	t.Parallel()

	srv, ide, done := startServer(t, false)

	engine, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer engine.Close()

	engineFramer := wire.NewFramer(engine, 0)
	require.NoError(t, engineFramer.WriteMessage([]byte(engineInit)))

	ideConn := ide.accept(t)
	ideFramer := wire.NewFramer(ideConn, 0)
	got, err := ideFramer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, engineInit, string(got))

	// Relay works both ways.
	require.NoError(t, ideFramer.WriteMessage([]byte(`<response transaction_id="1"/>`)))
	got, err = engineFramer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `<response transaction_id="1"/>`, string(got))

	// Closing the engine ends the session and, without ListenAgain, the run.
	require.NoError(t, engine.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after the session closed")
	}
}

func TestListenAgainAcceptsAnotherEngine(t *testing.T) {
	t.Parallel()

	srv, ide, done := startServer(t, true)

	for i := 0; i < 2; i++ {
		engine, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)

		framer := wire.NewFramer(engine, 0)
		require.NoError(t, framer.WriteMessage([]byte(engineInit)))

		ideConn := ide.accept(t)
		got, err := wire.NewFramer(ideConn, 0).ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, engineInit, string(got))

		require.NoError(t, engine.Close())
	}

	select {
	case err := <-done:
		t.Fatalf("Serve returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInvalidHandshakeEndsRun(t *testing.T) {
	t.Parallel()

	srv, _, done := startServer(t, false)

	engine, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, wire.NewFramer(engine, 0).WriteMessage([]byte(`<init appid="1"/>`)))

	// The engine connection is closed without any relay.
	require.NoError(t, engine.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 1)
	_, err = engine.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestUnreachableIDEEndpoint(t *testing.T) {
	t.Parallel()

	ide := newFakeIDE(t)
	ideAddr := ide.ln.Addr().String()
	ide.ln.Close() // nothing listens there anymore

	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.IDEAddress = ideAddr
	cfg.Timeouts.Dial = time.Second

	srv := New(cfg, nil)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	engine, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer engine.Close()
	require.NoError(t, wire.NewFramer(engine, 0).WriteMessage([]byte(engineInit)))

	require.NoError(t, engine.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 1)
	_, err = engine.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestContextCancelStopsServer(t *testing.T) {
	t.Parallel()

	ide := newFakeIDE(t)
	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.IDEAddress = ide.ln.Addr().String()
	cfg.Server.ListenAgain = true

	srv := New(cfg, nil)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}
