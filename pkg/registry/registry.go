// Package registry maps IDE keys to registered IDE listen addresses and
// decides whether an announcing engine may pair. It is the only state in the
// proxy shared across connections; one short-held mutex guards the whole
// table and never covers I/O.
package registry

import (
	"errors"
	"sync"
	"time"
)

// Common registry errors
var (
	// ErrInvalidKey is returned for an empty IDE key.
	ErrInvalidKey = errors.New("invalid IDE key")
	// ErrNoSuchKey is returned when no IDE is registered under the key.
	ErrNoSuchKey = errors.New("no IDE registered for key")
	// ErrAlreadyRegistered is returned when the key is taken and the
	// registry is configured not to replace.
	ErrAlreadyRegistered = errors.New("IDE key already registered")
	// ErrBusy is returned when a single-session binding already has a live
	// session.
	ErrBusy = errors.New("IDE key busy")
)

// Binding is one registered IDE endpoint.
type Binding struct {
	// Key is the IDE key engines announce in their handshake.
	Key string
	// Address is the host:port the proxy dials to reach the IDE.
	Address string
	// Multi allows any number of concurrent engine sessions under this
	// key. When false, at most one session may be live at a time.
	Multi bool
	// RegisteredAt records when the binding was installed.
	RegisteredAt time.Time

	// live counts sessions currently paired under this binding.
	live int
}

// Live returns the number of sessions currently paired under the binding.
func (b *Binding) Live() int { return b.live }

// clone returns a copy safe to hand out without the registry lock.
func (b *Binding) clone() *Binding {
	c := *b
	return &c
}

// Registry is the process-wide IDE key table. All operations are
// linearizable: concurrent register/unregister/pair calls for the same key
// observe a single total order.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding

	// allowReplace makes re-registration of a taken key an atomic
	// replacement instead of an error. Already-paired sessions are never
	// disturbed either way.
	allowReplace bool
}

// New creates an empty registry.
func New(allowReplace bool) *Registry {
	return &Registry{
		bindings:     make(map[string]*Binding),
		allowReplace: allowReplace,
	}
}

// Register installs the listen address for an IDE key.
func (r *Registry) Register(key, address string, multi bool) error {
	if key == "" {
		return ErrInvalidKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bindings[key]; ok && !r.allowReplace {
		if existing.Address != address {
			return ErrAlreadyRegistered
		}
		// Same endpoint re-announcing itself is an idempotent refresh.
	}
	r.bindings[key] = &Binding{
		Key:          key,
		Address:      address,
		Multi:        multi,
		RegisteredAt: time.Now(),
	}
	return nil
}

// Unregister removes the mapping for an IDE key. Sessions already paired
// under the old mapping are unaffected.
func (r *Registry) Unregister(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bindings[key]; !ok {
		return ErrNoSuchKey
	}
	delete(r.bindings, key)
	return nil
}

// Pair resolves the IDE address for an announcing engine and reserves a
// session slot under the binding. The caller must call Release with the same
// key once the session ends. Pair never blocks on I/O.
func (r *Registry) Pair(key string) (*Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[key]
	if !ok {
		return nil, ErrNoSuchKey
	}
	if !b.Multi && b.live > 0 {
		return nil, ErrBusy
	}
	b.live++
	return b.clone(), nil
}

// Release returns a session slot taken by Pair. Releasing a key that has
// been unregistered in the meantime is a no-op: the binding died with its
// registration.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[key]; ok && b.live > 0 {
		b.live--
	}
}

// Lookup returns the binding for a key without reserving a slot.
func (r *Registry) Lookup(key string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[key]
	if !ok {
		return nil, false
	}
	return b.clone(), true
}

// Keys returns the currently registered IDE keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.bindings))
	for k := range r.bindings {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
