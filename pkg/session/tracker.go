package session

import (
	"bytes"
	"strconv"
	"sync"
	"time"
)

// Tracker assigns session-scoped transaction identifiers and records which
// commands are still unanswered. It exists for diagnostics only (pending
// counts, stall detection); the relay path never depends on it, and a failed
// lookup never blocks message delivery.
type Tracker struct {
	mu      sync.Mutex
	next    int64
	pending map[string]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]time.Time)}
}

// NextID returns a fresh monotonically increasing transaction id in the
// decimal text form the wire encoding requires.
func (t *Tracker) NextID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	return strconv.FormatInt(t.next, 10)
}

// RecordPending marks id as issued and awaiting a response.
func (t *Tracker) RecordPending(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; !exists {
		t.pending[id] = time.Now()
	}
}

// Resolve clears a pending id and returns how long the command was
// outstanding. The second return is false if the id was not pending.
func (t *Tracker) Resolve(id string) (time.Duration, bool) {
	if id == "" {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	issued, ok := t.pending[id]
	if !ok {
		return 0, false
	}
	delete(t.pending, id)
	return time.Since(issued), true
}

// PendingCount returns the number of unanswered commands.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// OldestPending returns the longest-outstanding command id and its age.
// Used to surface stalled sessions on the status API.
func (t *Tracker) OldestPending() (string, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, at := range t.pending {
		if oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		return "", 0, false
	}
	return oldestID, time.Since(oldestAt), true
}

var (
	respAttr = []byte(`transaction_id="`)
	cmdFlag  = []byte("-i ")
)

// sniffTransactionID extracts the transaction id from a relayed payload
// without building an XML object model. Commands carry `-i <id>` argument
// form, responses carry a transaction_id attribute. Returns "" when no id is
// recognizable; callers treat that as "nothing to track".
func sniffTransactionID(payload []byte) string {
	if i := bytes.Index(payload, respAttr); i >= 0 {
		rest := payload[i+len(respAttr):]
		if j := bytes.IndexByte(rest, '"'); j > 0 {
			return string(rest[:j])
		}
		return ""
	}
	if i := bytes.Index(payload, cmdFlag); i >= 0 {
		rest := payload[i+len(cmdFlag):]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end > 0 {
			return string(rest[:end])
		}
	}
	return ""
}
