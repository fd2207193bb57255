package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDMonotonic(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	assert.Equal(t, "1", tr.NextID())
	assert.Equal(t, "2", tr.NextID())
	assert.Equal(t, "3", tr.NextID())
}

func TestRecordAndResolve(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.RecordPending("5")
	assert.Equal(t, 1, tr.PendingCount())

	elapsed, ok := tr.Resolve("5")
	require.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	assert.Zero(t, tr.PendingCount())
}

func TestResolveUnknown(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	_, ok := tr.Resolve("42")
	assert.False(t, ok)
}

func TestOldestPending(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	_, _, ok := tr.OldestPending()
	assert.False(t, ok)

	tr.RecordPending("1")
	time.Sleep(10 * time.Millisecond)
	tr.RecordPending("2")

	id, age, ok := tr.OldestPending()
	require.True(t, ok)
	assert.Equal(t, "1", id)
	assert.GreaterOrEqual(t, age, 10*time.Millisecond)
}

func TestSniffTransactionID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"response attribute", `<response command="run" status="break" transaction_id="7"/>`, "7"},
		{"command argv", `feature_get -i 12 -n supports_async`, "12"},
		{"command argv trailing", `run -i 3`, "3"},
		{"no id", `<stream type="stdout">aGk=</stream>`, ""},
		{"empty attribute", `<response transaction_id=""/>`, ""},
		{"init frame", `<init idekey="abc" appid="1"/>`, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sniffTransactionID([]byte(tc.payload)), tc.name)
	}
}
