package session

import (
	"errors"
	"sync"
	"time"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// ErrUnknownSignal is returned when a client reports a signal kind outside
// the enumerated proctor event kinds.
var ErrUnknownSignal = errors.New("unknown integrity signal kind")

// Signal is a raw environment observation reported by the client: a
// visibility change, window blur, clipboard paste, fullscreen exit, forbidden
// key combination, or network drop.
type Signal struct {
	Kind   model.ProctorEventKind `json:"kind"`
	Detail string                 `json:"detail,omitempty"`
}

// Warning is a transient user-facing display request. Every observed proctor
// event produces exactly one warning; the view dismisses it after ShowFor.
type Warning struct {
	Event   model.ProctorEvent `json:"event"`
	Message string             `json:"message"`
	ShowFor time.Duration      `json:"show_for"`
}

// Monitor classifies environment signals into proctor events, keeps the
// append-only event log, and feeds the risk scorer. It performs no I/O; the
// owning session forwards events to the gateway and warnings to the emitter.
type Monitor struct {
	mu      sync.Mutex
	events  []model.ProctorEvent
	score   int
	scorer  *Scorer
	clock   Clock
	showFor time.Duration
}

// NewMonitor creates a Monitor with the given scorer and warning duration.
func NewMonitor(scorer *Scorer, clock Clock, showFor time.Duration) *Monitor {
	return &Monitor{scorer: scorer, clock: clock, showFor: showFor}
}

// Observe appends one event to the log, accumulates its weight into the risk
// score, and returns the event with its warning display request.
func (m *Monitor) Observe(sig Signal) (model.ProctorEvent, Warning, error) {
	if !sig.Kind.Valid() {
		return model.ProctorEvent{}, Warning{}, ErrUnknownSignal
	}

	ev := model.ProctorEvent{
		Kind:       sig.Kind,
		OccurredAt: m.clock.Now(),
		Detail:     sig.Detail,
	}

	m.mu.Lock()
	m.events = append(m.events, ev)
	m.score += m.scorer.Weight(ev.Kind)
	m.mu.Unlock()

	return ev, Warning{Event: ev, Message: warningMessage(ev.Kind), ShowFor: m.showFor}, nil
}

// Events returns a copy of the append-only event log.
func (m *Monitor) Events() []model.ProctorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ProctorEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Score returns the accumulated risk score. It always equals
// scorer.Score(Events()); the log is the source of truth and the
// accumulator is an optimization.
func (m *Monitor) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

// Band returns the presentation band for the current score.
func (m *Monitor) Band() RiskBand {
	return m.scorer.Band(m.Score())
}

func warningMessage(kind model.ProctorEventKind) string {
	switch kind {
	case model.ProctorTabSwitch:
		return "Switching tabs during the exam is recorded."
	case model.ProctorFocusLoss:
		return "Leaving the exam window is recorded."
	case model.ProctorPaste:
		return "Pasting content is recorded."
	case model.ProctorFullscreenExit:
		return "Exiting fullscreen is recorded. Please return to fullscreen."
	case model.ProctorForbiddenKey:
		return "This key combination is disabled during the exam."
	case model.ProctorNetworkDrop:
		return "Connection lost. Your answers are kept and will sync when you are back online."
	default:
		return "This activity is recorded."
	}
}
