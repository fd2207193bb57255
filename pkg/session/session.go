// Package session implements one live engine-to-IDE pairing: two framers, two
// relay loops, a lifecycle state machine, and the per-session transaction
// tracker. Frames are relayed byte-identical in FIFO order per direction;
// nothing past the handshake is inspected beyond a best-effort transaction-id
// sniff for diagnostics.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbgp-dev/dbgpd/pkg/logger"
	"github.com/dbgp-dev/dbgpd/pkg/telemetry"
	"github.com/dbgp-dev/dbgpd/pkg/wire"
)

// State is the lifecycle state of a session.
type State int32

// Session lifecycle states. Transitions only move forward.
const (
	StateConnecting State = iota
	StateHandshakeWait
	StateActive
	StateClosing
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakeWait:
		return "handshake_wait"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config carries the knobs a Session needs beyond its two connections.
type Config struct {
	// MaxFrameSize bounds relayed payloads; 0 selects the wire default.
	MaxFrameSize int
	// Metrics receives relay counters. Nil disables telemetry.
	Metrics *telemetry.Metrics
	// OnClose runs exactly once after both relay loops have stopped and
	// both connections are closed. Used by the proxy to release the
	// registry pairing and drop the session from its manager.
	OnClose func(*Session)
}

// Session owns an engine connection and an IDE connection exclusively and
// relays framed messages between them until either side closes.
type Session struct {
	key     string
	init    *wire.Init
	created time.Time

	engine       net.Conn
	ide          net.Conn
	engineFramer *wire.Framer
	ideFramer    *wire.Framer

	tracker *Tracker
	metrics *telemetry.Metrics
	onClose func(*Session)

	mu    sync.Mutex
	state State

	closeOnce sync.Once
	done      chan struct{}

	// started flags that SessionStarted was reported, so finish only
	// decrements the active gauge for sessions that actually ran.
	started bool
}

// New creates a session over an already-paired engine and IDE connection.
// The caller hands over ownership of both connections; nothing else may read
// or write them afterwards.
func New(engine, ide net.Conn, init *wire.Init, cfg Config) *Session {
	return &Session{
		key:          uuid.NewString(),
		init:         init,
		created:      time.Now(),
		engine:       engine,
		ide:          ide,
		engineFramer: wire.NewFramer(engine, cfg.MaxFrameSize),
		ideFramer:    wire.NewFramer(ide, cfg.MaxFrameSize),
		tracker:      NewTracker(),
		metrics:      cfg.Metrics,
		onClose:      cfg.OnClose,
		state:        StateHandshakeWait,
		done:         make(chan struct{}),
	}
}

// Start forwards the already-read handshake frame to the IDE side and then
// runs the two relay loops. The handshake is relayed verbatim, never
// synthesized. Start returns once the loops are running; use Done or Wait to
// observe teardown.
func (s *Session) Start(handshake []byte) error {
	if err := s.ideFramer.WriteMessage(handshake); err != nil {
		s.Close()
		s.finish()
		return fmt.Errorf("forwarding handshake: %w", err)
	}
	s.metrics.FrameRelayed(telemetry.DirectionEngineToIDE, len(handshake))
	s.setState(StateActive)
	s.started = true
	s.metrics.SessionStarted()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.relay(s.engineFramer, s.ideFramer, telemetry.DirectionEngineToIDE)
	}()
	go func() {
		defer wg.Done()
		s.relay(s.ideFramer, s.engineFramer, telemetry.DirectionIDEToEngine)
	}()
	go func() {
		wg.Wait()
		s.finish()
	}()
	return nil
}

// relay moves frames src -> dst until either side fails or closes. Any exit
// tears down the whole session; the counterpart loop is unblocked by the
// connection close in Close.
func (s *Session) relay(src, dst *wire.Framer, direction string) {
	defer s.Close()
	for {
		payload, err := src.ReadMessage()
		if err != nil {
			s.logRelayExit(direction, err)
			return
		}
		s.track(direction, payload)
		if err := dst.WriteMessage(payload); err != nil {
			s.logRelayExit(direction, err)
			return
		}
		s.metrics.FrameRelayed(direction, len(payload))
	}
}

// track feeds the diagnostic transaction tracker. Commands flow IDE to
// engine, responses flow back; unrecognized payloads are ignored.
func (s *Session) track(direction string, payload []byte) {
	id := sniffTransactionID(payload)
	if id == "" {
		return
	}
	if direction == telemetry.DirectionIDEToEngine {
		s.tracker.RecordPending(id)
		s.metrics.CommandPending(1)
		return
	}
	if _, ok := s.tracker.Resolve(id); ok {
		s.metrics.CommandPending(-1)
	}
}

func (s *Session) logRelayExit(direction string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		// Ordinary peer close; not an error for the other side.
		logger.Debugw("peer closed", "session", s.key, "direction", direction)
	case isClosedConn(err):
		logger.Debugw("relay stopped", "session", s.key, "direction", direction)
	case wire.IsFramingError(err) || errors.Is(err, wire.ErrFrameTooLarge):
		s.metrics.FrameError()
		logger.Warnw("framing violation, closing session",
			"session", s.key, "direction", direction, "error", err)
	default:
		logger.Warnw("relay error, closing session",
			"session", s.key, "direction", direction, "error", err)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// Close tears the session down. It is idempotent and safe to call from
// either relay loop, the session manager, or an administrative kill. Closing
// both connections unblocks any pending read or write, which stops both
// loops within one frame.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if err := s.engine.Close(); err != nil && !isClosedConn(err) {
			logger.Debugw("closing engine connection", "session", s.key, "error", err)
		}
		if err := s.ide.Close(); err != nil && !isClosedConn(err) {
			logger.Debugw("closing ide connection", "session", s.key, "error", err)
		}
	})
}

// finish runs exactly once: after both relay loops have exited, or directly
// from Start when the handshake could not be forwarded.
func (s *Session) finish() {
	s.Close()
	s.setState(StateClosed)
	if s.started {
		s.metrics.SessionClosed()
	}
	if pending := s.tracker.PendingCount(); pending > 0 {
		s.metrics.CommandPending(-pending)
		logger.Debugw("session closed with unanswered commands",
			"session", s.key, "pending", pending)
	}
	close(s.done)
	if s.onClose != nil {
		s.onClose(s)
	}
	logger.Infow("session closed", "session", s.key, "idekey", s.IDEKey(),
		"age", time.Since(s.created).Round(time.Millisecond).String())
}

// Done is closed once the session is fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is fully torn down.
func (s *Session) Wait() {
	<-s.done
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.state {
		s.state = next
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Key returns the generated session key.
func (s *Session) Key() string { return s.key }

// IDEKey returns the routing key from the engine handshake.
func (s *Session) IDEKey() string {
	if s.init == nil {
		return ""
	}
	return s.init.IDEKey
}

// Init returns the parsed handshake attributes.
func (s *Session) Init() *wire.Init { return s.init }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// Tracker returns the per-session transaction tracker.
func (s *Session) Tracker() *Tracker { return s.tracker }

// EngineAddr returns the engine peer address.
func (s *Session) EngineAddr() net.Addr { return s.engine.RemoteAddr() }

// IDEAddr returns the IDE peer address.
func (s *Session) IDEAddr() net.Addr { return s.ide.RemoteAddr() }
