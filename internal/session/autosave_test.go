package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAutosaver(gw *fakeGateway, emit Emitter, warnAfter int) (*Autosaver, *Buffer, *fakeClock) {
	clk := newFakeClock()
	b := NewBuffer()
	safe := func(fn func()) {
		defer func() { recover() }()
		fn()
	}
	a := newAutosaver(b, gw, uuid.New(), emit, safe, clk, time.Hour, warnAfter, zerolog.Nop())
	return a, b, clk
}

func TestAutosaveFlushSyncsDirtyDrafts(t *testing.T) {
	gw := newFakeGateway(nil)
	a, b, _ := newTestAutosaver(gw, &recordEmitter{}, 3)

	q1, q2 := uuid.New(), uuid.New()
	b.SetAnswer(q1, json.RawMessage(`"a"`))
	b.SetAnswer(q2, json.RawMessage(`"b"`))

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, 2, gw.saveCount())
	assert.Zero(t, b.DirtyCount())

	// A clean buffer flushes to nothing.
	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, 2, gw.saveCount())
}

func TestAutosaveRetriesWithoutBound(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.setSaveErr(errors.New("503"))
	emit := &recordEmitter{}
	a, b, _ := newTestAutosaver(gw, emit, 3)

	q := uuid.New()
	b.SetAnswer(q, json.RawMessage(`"answer"`))

	for i := 0; i < 5; i++ {
		assert.Error(t, a.Flush(context.Background()))
	}
	d, _ := b.Get(q)
	assert.True(t, d.Dirty)
	assert.Equal(t, 5, d.SyncAttempts)

	// The user-facing warning fires once, at the configured bound.
	require.Len(t, emit.saveFails, 1)
	assert.Equal(t, q, emit.saveFails[0])

	// Recovery on the next pass clears the draft.
	gw.setSaveErr(nil)
	require.NoError(t, a.Flush(context.Background()))
	assert.Zero(t, b.DirtyCount())
}

func TestAutosaveFlushHonorsContext(t *testing.T) {
	gw := newFakeGateway(nil)
	a, b, _ := newTestAutosaver(gw, &recordEmitter{}, 3)

	b.SetAnswer(uuid.New(), json.RawMessage(`"a"`))
	b.SetAnswer(uuid.New(), json.RawMessage(`"b"`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Flush(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gw.saveCount())
	assert.Equal(t, 2, b.DirtyCount())
}

func TestAutosavePartialFailureKeepsOrder(t *testing.T) {
	gw := newFakeGateway(nil)
	a, b, _ := newTestAutosaver(gw, &recordEmitter{}, 3)

	q1, q2 := uuid.New(), uuid.New()
	b.SetAnswer(q1, json.RawMessage(`"a"`))
	b.SetAnswer(q2, json.RawMessage(`"b"`))

	// Only q1 fails.
	gw.mu.Lock()
	gw.saveErrFor = map[uuid.UUID]error{q1: errors.New("flaky")}
	gw.mu.Unlock()

	assert.Error(t, a.Flush(context.Background()))
	assert.Equal(t, 1, b.DirtyCount())
	d, _ := b.Get(q2)
	assert.False(t, d.Dirty)
}
