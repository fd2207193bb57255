// Package server implements the embedded direct DBGP server: one engine
// listen port relayed to a single statically configured IDE endpoint, with
// no registry in between.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dbgp-dev/dbgpd/pkg/config"
	"github.com/dbgp-dev/dbgpd/pkg/logger"
	"github.com/dbgp-dev/dbgpd/pkg/session"
	"github.com/dbgp-dev/dbgpd/pkg/telemetry"
	"github.com/dbgp-dev/dbgpd/pkg/wire"
)

// Server accepts one engine connection at a time and relays it to the
// configured IDE endpoint. When ListenAgain is unset the run ends with the
// first session; otherwise the acceptor re-arms until the context ends.
type Server struct {
	cfg     *config.Config
	metrics *telemetry.Metrics

	ln net.Listener
}

// New creates a direct server from a validated configuration. metrics may be
// nil.
func New(cfg *config.Config, metrics *telemetry.Metrics) *Server {
	return &Server{cfg: cfg, metrics: metrics}
}

// Addr returns the bound engine listener address. Only valid after Serve has
// bound it; tests bind via Listen first.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listen binds the engine listener without accepting yet.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("binding engine listener on %s: %w", s.cfg.Server.ListenAddress, err)
	}
	s.ln = ln
	logger.Infow("direct server listening",
		"engine", ln.Addr().String(), "ide", s.cfg.Server.IDEAddress)
	return nil
}

// Serve runs the accept-relay loop until the context is canceled or, when
// ListenAgain is unset, until the first session ends.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.ln.Close()

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accepting engine connection: %w", err)
		}

		if err := s.relayOne(conn); err != nil {
			logger.Warnw("session failed", "remote", conn.RemoteAddr().String(), "error", err)
		}
		if !s.cfg.Server.ListenAgain {
			return nil
		}
		logger.Debug("re-arming engine listener")
	}
}

// relayOne consumes the engine handshake, dials the static IDE endpoint, and
// blocks until the resulting session is fully torn down.
func (s *Server) relayOne(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeouts.Handshake)); err != nil {
		conn.Close()
		return err
	}
	framer := wire.NewFramer(conn, s.cfg.Wire.MaxFrameSize)
	handshake, err := framer.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("reading engine handshake: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	init, err := wire.ParseInit(handshake)
	if err != nil {
		conn.Close()
		return err
	}

	ideConn, err := net.DialTimeout("tcp", s.cfg.Server.IDEAddress, s.cfg.Timeouts.Dial)
	if err != nil {
		conn.Close()
		return fmt.Errorf("dialing IDE endpoint %s: %w", s.cfg.Server.IDEAddress, err)
	}

	sess := session.New(conn, ideConn, init, session.Config{
		MaxFrameSize: s.cfg.Wire.MaxFrameSize,
		Metrics:      s.metrics,
	})
	logger.Infow("session started", "session", sess.Key(),
		"idekey", init.IDEKey, "engine", conn.RemoteAddr().String())
	if err := sess.Start(handshake); err != nil {
		return err
	}
	sess.Wait()
	return nil
}
