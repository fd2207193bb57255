package session

import "errors"

// Common session errors
var (
	// ErrTooManySessions is returned when the configured session limit is
	// reached. New connections are refused at admission; existing sessions
	// are never degraded to make room.
	ErrTooManySessions = errors.New("session limit reached")
	// ErrSessionExists is returned when a session key is already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned when no session has the given key.
	ErrSessionNotFound = errors.New("session not found")
)
