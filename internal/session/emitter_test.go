package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

func TestEventJSONOmitsUnsetQuestionID(t *testing.T) {
	tick, err := json.Marshal(Event{Type: EventTick, RemainingSec: 30})
	require.NoError(t, err)
	assert.NotContains(t, string(tick), "question_id")

	q := uuid.New()
	failed, err := json.Marshal(Event{Type: EventSaveFailed, QuestionID: &q, Attempts: 12})
	require.NoError(t, err)
	assert.Contains(t, string(failed), q.String())
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch1, cancel1 := h.Subscribe(4)
	ch2, cancel2 := h.Subscribe(4)
	defer cancel1()
	defer cancel2()

	h.Tick(90 * time.Second)
	h.StateChanged(model.AttemptStatusSubmitted)

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, EventTick, ev.Type)
		assert.Equal(t, 90.0, ev.RemainingSec)

		ev = <-ch
		assert.Equal(t, EventState, ev.Type)
		assert.Equal(t, model.AttemptStatusSubmitted, ev.Status)
	}
}

func TestHubDropsForSlowConsumers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch, cancel := h.Subscribe(1)
	defer cancel()

	// Nobody is draining; the second tick must be dropped, not block.
	done := make(chan struct{})
	go func() {
		h.Tick(10 * time.Second)
		h.Tick(9 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber channel")
	}

	ev := <-ch
	assert.Equal(t, 10.0, ev.RemainingSec)
	select {
	case ev := <-ch:
		t.Fatalf("expected drop, got %+v", ev)
	default:
	}
}

func TestHubCancelAndClose(t *testing.T) {
	h := NewHub()

	ch, cancel := h.Subscribe(1)
	cancel()
	cancel() // safe twice
	_, open := <-ch
	assert.False(t, open)

	ch2, _ := h.Subscribe(1)
	h.Close()
	_, open = <-ch2
	assert.False(t, open)

	// Subscribing after close yields a closed channel, not a panic.
	ch3, cancel3 := h.Subscribe(1)
	cancel3()
	_, open = <-ch3
	require.False(t, open)

	// Broadcasts after close are harmless.
	h.Tick(time.Second)
}
