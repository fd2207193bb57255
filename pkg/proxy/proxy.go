// Package proxy implements the multi-session DBGP proxy: an engine acceptor,
// an IDE-side administrative acceptor, and the pairing logic that turns an
// engine handshake plus a registered IDE address into a relay session.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dbgp-dev/dbgpd/pkg/config"
	"github.com/dbgp-dev/dbgpd/pkg/logger"
	"github.com/dbgp-dev/dbgpd/pkg/registry"
	"github.com/dbgp-dev/dbgpd/pkg/session"
	"github.com/dbgp-dev/dbgpd/pkg/telemetry"
	"github.com/dbgp-dev/dbgpd/pkg/wire"
)

// Proxy routes debuggee engines to registered IDE endpoints. It owns the two
// listeners, the IDE-key registry, and the session table; individual
// connections are handled by per-connection goroutines that never share
// state beyond those components.
type Proxy struct {
	cfg      *config.Config
	registry *registry.Registry
	sessions *session.Manager
	metrics  *telemetry.Metrics

	promRegistry *prometheus.Registry

	engineLn net.Listener
	ideLn    net.Listener
	statusLn net.Listener
	statusHS *http.Server

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a proxy from a validated configuration.
func New(cfg *config.Config) *Proxy {
	promRegistry := prometheus.NewRegistry()
	return &Proxy{
		cfg:          cfg,
		registry:     registry.New(cfg.Proxy.AllowReplace),
		sessions:     session.NewManager(cfg.Proxy.SessionLimit),
		metrics:      telemetry.NewMetrics(promRegistry),
		promRegistry: promRegistry,
	}
}

// Registry exposes the IDE-key table, mainly for tests and the status API.
func (p *Proxy) Registry() *registry.Registry { return p.registry }

// Sessions exposes the live session table.
func (p *Proxy) Sessions() *session.Manager { return p.sessions }

// Start binds the engine and IDE listeners and begins accepting. It returns
// once both acceptors are running; use Wait to block until shutdown.
func (p *Proxy) Start(ctx context.Context) error {
	var err error
	p.engineLn, err = net.Listen("tcp", p.cfg.Proxy.EngineAddress)
	if err != nil {
		return fmt.Errorf("binding engine listener on %s: %w", p.cfg.Proxy.EngineAddress, err)
	}
	p.ideLn, err = net.Listen("tcp", p.cfg.Proxy.IDEAddress)
	if err != nil {
		p.engineLn.Close()
		return fmt.Errorf("binding IDE listener on %s: %w", p.cfg.Proxy.IDEAddress, err)
	}
	if p.cfg.Status.Address != "" {
		p.statusLn, err = net.Listen("tcp", p.cfg.Status.Address)
		if err != nil {
			p.engineLn.Close()
			p.ideLn.Close()
			return fmt.Errorf("binding status listener on %s: %w", p.cfg.Status.Address, err)
		}
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	p.group.Go(func() error {
		<-ctx.Done()
		p.closeListeners()
		return nil
	})
	p.group.Go(func() error {
		p.acceptLoop(p.engineLn, "engine", p.handleEngine)
		return nil
	})
	p.group.Go(func() error {
		p.acceptLoop(p.ideLn, "ide", p.handleAdmin)
		return nil
	})
	if p.statusLn != nil {
		p.statusHS = &http.Server{
			Handler:           p.statusHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		p.group.Go(func() error {
			if err := p.statusHS.Serve(p.statusLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("status server failed", "error", err)
			}
			return nil
		})
	}

	logger.Infow("proxy listening",
		"engine", p.engineLn.Addr().String(),
		"ide", p.ideLn.Addr().String())
	return nil
}

// EngineAddr returns the bound engine listener address.
func (p *Proxy) EngineAddr() net.Addr { return p.engineLn.Addr() }

// IDEAddr returns the bound IDE/administrative listener address.
func (p *Proxy) IDEAddr() net.Addr { return p.ideLn.Addr() }

// StatusAddr returns the bound status listener address, or nil when the
// status API is disabled.
func (p *Proxy) StatusAddr() net.Addr {
	if p.statusLn == nil {
		return nil
	}
	return p.statusLn.Addr()
}

// acceptLoop accepts connections until the listener closes. One bad peer
// never takes the acceptor down.
func (p *Proxy) acceptLoop(ln net.Listener, kind string, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnw("accept failed", "listener", kind, "error", err)
			continue
		}
		logger.Debugw("connection accepted", "listener", kind, "remote", conn.RemoteAddr().String())
		go handle(conn)
	}
}

// handleEngine consumes the engine handshake, pairs it with a registered
// IDE, and hands both connections to a session. Every failure before the
// session exists closes the engine connection immediately: fail fast, no
// buffering, no retry.
func (p *Proxy) handleEngine(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.Timeouts.Handshake)); err != nil {
		conn.Close()
		return
	}
	framer := wire.NewFramer(conn, p.cfg.Wire.MaxFrameSize)
	handshake, err := framer.ReadMessage()
	if err != nil {
		if wire.IsFramingError(err) || errors.Is(err, wire.ErrFrameTooLarge) {
			p.metrics.FrameError()
		}
		logger.Warnw("engine handshake failed", "remote", remote, "error", err)
		conn.Close()
		return
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	init, err := wire.ParseInit(handshake)
	if err != nil {
		p.metrics.PairFailure("invalid_handshake")
		logger.Warnw("invalid engine handshake", "remote", remote, "error", err)
		conn.Close()
		return
	}

	binding, err := p.registry.Pair(init.IDEKey)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNoSuchKey):
			p.metrics.PairFailure("no_such_key")
			logger.Infow("no IDE registered, dropping engine", "idekey", init.IDEKey, "remote", remote)
		case errors.Is(err, registry.ErrBusy):
			p.metrics.PairFailure("busy")
			logger.Infow("IDE key busy, dropping engine", "idekey", init.IDEKey, "remote", remote)
		default:
			p.metrics.PairFailure("registry")
			logger.Warnw("pairing failed", "idekey", init.IDEKey, "remote", remote, "error", err)
		}
		conn.Close()
		return
	}

	ideConn, err := net.DialTimeout("tcp", binding.Address, p.cfg.Timeouts.Dial)
	if err != nil {
		p.registry.Release(init.IDEKey)
		p.metrics.PairFailure("ide_unreachable")
		logger.Warnw("dialing registered IDE failed",
			"idekey", init.IDEKey, "address", binding.Address, "error", err)
		conn.Close()
		return
	}

	s := session.New(conn, ideConn, init, session.Config{
		MaxFrameSize: p.cfg.Wire.MaxFrameSize,
		Metrics:      p.metrics,
		OnClose: func(cs *session.Session) {
			p.sessions.Remove(cs.Key())
			p.registry.Release(init.IDEKey)
		},
	})
	if err := p.sessions.Add(s); err != nil {
		p.registry.Release(init.IDEKey)
		logger.Warnw("refusing session at admission", "idekey", init.IDEKey, "error", err)
		conn.Close()
		ideConn.Close()
		return
	}

	logger.Infow("session paired",
		"session", s.Key(), "idekey", init.IDEKey,
		"engine", remote, "ide", binding.Address, "appid", init.AppID)
	if err := s.Start(handshake); err != nil {
		logger.Warnw("session start failed", "session", s.Key(), "error", err)
	}
}

// closeListeners shuts the accept paths down; in-flight sessions are handled
// separately by Shutdown.
func (p *Proxy) closeListeners() {
	p.engineLn.Close()
	p.ideLn.Close()
	if p.statusHS != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeouts.Shutdown)
		defer cancel()
		_ = p.statusHS.Shutdown(shutdownCtx)
	}
}

// Wait blocks until the proxy has stopped accepting.
func (p *Proxy) Wait() error {
	return p.group.Wait()
}

// Shutdown stops accepting, closes every live session, and waits for their
// teardown.
func (p *Proxy) Shutdown() {
	p.cancel()
	_ = p.group.Wait()
	p.sessions.CloseAll()
	logger.Info("proxy stopped")
}
