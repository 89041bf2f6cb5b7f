package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferLastWriterWins(t *testing.T) {
	b := NewBuffer()
	q := uuid.New()

	b.SetAnswer(q, json.RawMessage(`{"selected_option":"A"}`))
	b.SetAnswer(q, json.RawMessage(`{"selected_option":"C"}`))
	seq := b.SetAnswer(q, json.RawMessage(`{"selected_option":"B"}`))

	d, ok := b.Get(q)
	require.True(t, ok)
	assert.JSONEq(t, `{"selected_option":"B"}`, string(d.Payload))
	assert.Equal(t, seq, d.EditSeq)
	assert.True(t, d.Dirty)
	assert.Equal(t, 1, b.DirtyCount())
}

func TestBufferEditSeqMonotonic(t *testing.T) {
	b := NewBuffer()
	q := uuid.New()

	s1 := b.SetAnswer(q, json.RawMessage(`"a"`))
	s2 := b.SetAnswer(q, json.RawMessage(`"b"`))
	s3 := b.SetAnswer(q, json.RawMessage(`"c"`))
	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)
}

// An edit landing while a save of the prior payload is in flight must keep
// the draft dirty: the stale save's acknowledgment carries an older edit
// sequence and loses the compare-and-set.
func TestBufferEditDuringInFlightSave(t *testing.T) {
	b := NewBuffer()
	q := uuid.New()
	now := time.Now()

	staleSeq := b.SetAnswer(q, json.RawMessage(`"while typing"`))

	pending := b.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, staleSeq, pending[0].EditSeq)

	// The student keeps typing while the save request is on the wire.
	b.SetAnswer(q, json.RawMessage(`"while typing more"`))

	// The stale acknowledgment arrives: it must not clear the dirty flag.
	assert.False(t, b.MarkSynced(q, staleSeq, now))

	d, _ := b.Get(q)
	assert.True(t, d.Dirty)
	assert.JSONEq(t, `"while typing more"`, string(d.Payload))

	// The next pass saves the newer payload and its ack sticks.
	pending = b.Pending()
	require.Len(t, pending, 1)
	assert.True(t, b.MarkSynced(q, pending[0].EditSeq, now))
	d, _ = b.Get(q)
	assert.False(t, d.Dirty)
}

func TestBufferRestoreNeverClobbersLiveEdits(t *testing.T) {
	b := NewBuffer()
	q := uuid.New()
	now := time.Now()

	b.SetAnswer(q, json.RawMessage(`"typed after reconnect"`))
	b.Restore(q, json.RawMessage(`"stale server copy"`), 7, now)

	d, _ := b.Get(q)
	assert.JSONEq(t, `"typed after reconnect"`, string(d.Payload))
	assert.True(t, d.Dirty)

	// Restoring an untouched question seeds it clean, resuming the persisted
	// edit counter so the next edit outranks the stored row.
	q2 := uuid.New()
	b.Restore(q2, json.RawMessage(`"server copy"`), 7, now)
	d2, ok := b.Get(q2)
	require.True(t, ok)
	assert.False(t, d2.Dirty)
	assert.Equal(t, uint64(8), b.SetAnswer(q2, json.RawMessage(`"edited"`)))
	assert.Equal(t, 2, b.DirtyCount())
}

func TestBufferPendingOrderAndFailureCount(t *testing.T) {
	b := NewBuffer()
	q1, q2, q3 := uuid.New(), uuid.New(), uuid.New()

	b.SetAnswer(q1, json.RawMessage(`"1"`))
	b.SetAnswer(q2, json.RawMessage(`"2"`))
	b.SetAnswer(q3, json.RawMessage(`"3"`))
	b.SetAnswer(q1, json.RawMessage(`"1 again"`)) // re-edit keeps original position

	pending := b.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, q1, pending[0].QuestionID)
	assert.Equal(t, q2, pending[1].QuestionID)
	assert.Equal(t, q3, pending[2].QuestionID)

	assert.Equal(t, 1, b.MarkFailed(q2))
	assert.Equal(t, 2, b.MarkFailed(q2))
	d, _ := b.Get(q2)
	assert.Equal(t, 2, d.SyncAttempts)
	assert.True(t, d.Dirty)
}
