package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// Emitter receives the session's observable effects. Implementations belong
// to the view/transport layer; the engine isolates itself from panicking
// implementations and never blocks on them longer than a channel send.
type Emitter interface {
	// Tick is delivered at the configured cadence while the attempt is in
	// progress, carrying the remaining time recomputed from the deadline.
	Tick(remaining time.Duration)
	// Warn carries exactly one display request per observed proctor event.
	Warn(w Warning)
	// SaveFailed fires when a draft's retry count crosses the warn bound.
	SaveFailed(questionID uuid.UUID, attempts int)
	// StateChanged fires on every attempt status transition.
	StateChanged(status model.AttemptStatus)
	// SubmitFailed fires when the submit call fails after the local state has
	// already turned terminal; the failure is retryable.
	SubmitFailed(err error)
}

// NopEmitter discards all effects.
type NopEmitter struct{}

func (NopEmitter) Tick(time.Duration)               {}
func (NopEmitter) Warn(Warning)                     {}
func (NopEmitter) SaveFailed(uuid.UUID, int)        {}
func (NopEmitter) StateChanged(model.AttemptStatus) {}
func (NopEmitter) SubmitFailed(error)               {}

// EventType tags a fanned-out session event.
type EventType string

const (
	EventTick         EventType = "tick"
	EventWarning      EventType = "warning"
	EventSaveFailed   EventType = "save_failed"
	EventState        EventType = "state"
	EventSubmitFailed EventType = "submit_failed"
)

// Event is the wire-friendly union of all session emissions.
type Event struct {
	Type         EventType           `json:"type"`
	RemainingSec float64             `json:"remaining_sec,omitempty"`
	Warning      *Warning            `json:"warning,omitempty"`
	QuestionID   *uuid.UUID          `json:"question_id,omitempty"`
	Attempts     int                 `json:"attempts,omitempty"`
	Status       model.AttemptStatus `json:"status,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Hub is an Emitter that fans events out to any number of subscribers.
// Sessions outlive individual connections: a WebSocket subscribes on attach
// and unsubscribes on disconnect while the session keeps running.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel func. The channel is closed on cancel or hub close. Slow consumers
// lose events rather than stalling the engine.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// Close shuts down all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

func (h *Hub) Tick(remaining time.Duration) {
	h.broadcast(Event{Type: EventTick, RemainingSec: remaining.Seconds()})
}

func (h *Hub) Warn(w Warning) {
	h.broadcast(Event{Type: EventWarning, Warning: &w})
}

func (h *Hub) SaveFailed(questionID uuid.UUID, attempts int) {
	h.broadcast(Event{Type: EventSaveFailed, QuestionID: &questionID, Attempts: attempts})
}

func (h *Hub) StateChanged(status model.AttemptStatus) {
	h.broadcast(Event{Type: EventState, Status: status})
}

func (h *Hub) SubmitFailed(err error) {
	h.broadcast(Event{Type: EventSubmitFailed, Error: err.Error()})
}
