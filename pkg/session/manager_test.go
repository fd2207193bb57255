package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdleSession(t *testing.T) *Session {
	t.Helper()
	engine, enginePeer := net.Pipe()
	ide, idePeer := net.Pipe()
	t.Cleanup(func() {
		enginePeer.Close()
		idePeer.Close()
	})
	s := New(engine, ide, nil, Config{})
	t.Cleanup(s.Close)
	return s
}

func TestManagerAddGetRemove(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	s := newIdleSession(t)
	require.NoError(t, m.Add(s))
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get(s.Key())
	require.True(t, ok)
	assert.Same(t, s, got)

	m.Remove(s.Key())
	_, ok = m.Get(s.Key())
	assert.False(t, ok)
}

func TestManagerDuplicateKey(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	s := newIdleSession(t)
	require.NoError(t, m.Add(s))
	assert.ErrorIs(t, m.Add(s), ErrSessionExists)
}

func TestManagerAdmissionLimit(t *testing.T) {
	t.Parallel()

	m := NewManager(2)
	require.NoError(t, m.Add(newIdleSession(t)))
	require.NoError(t, m.Add(newIdleSession(t)))

	err := m.Add(newIdleSession(t))
	assert.ErrorIs(t, err, ErrTooManySessions)
	// Existing sessions are untouched by the refusal.
	assert.Equal(t, 2, m.Len())
}

func TestManagerKill(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	s := newIdleSession(t)
	require.NoError(t, m.Add(s))

	require.NoError(t, m.Kill(s.Key()))
	assert.ErrorIs(t, m.Kill("no-such-session"), ErrSessionNotFound)
}

func TestManagerCloseAll(t *testing.T) {
	t.Parallel()

	m := NewManager(0)
	var sessions []*Session
	for i := 0; i < 3; i++ {
		engine, _ := net.Pipe()
		ide, idePeer := net.Pipe()
		s := New(engine, ide, nil, Config{OnClose: func(cs *Session) { m.Remove(cs.Key()) }})
		require.NoError(t, m.Add(s))
		sessions = append(sessions, s)

		// Active relay loops so CloseAll has something to stop.
		go func() { _ = s.Start([]byte("<init idekey=\"k\"/>")) }()
		fr := newPeerReader(t, idePeer)
		_ = fr
	}

	done := make(chan struct{})
	go func() {
		m.CloseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("CloseAll did not finish")
	}
	for _, s := range sessions {
		assert.Equal(t, StateClosed, s.State())
	}
	assert.Zero(t, m.Len())
}

// newPeerReader drains the IDE peer in the background so handshake writes to
// a net.Pipe do not wedge.
func newPeerReader(t *testing.T, conn net.Conn) chan struct{} {
	t.Helper()
	stop := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				close(stop)
				return
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return stop
}
