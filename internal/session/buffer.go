package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Draft is one locally held, possibly-unsynced answer to one question.
type Draft struct {
	QuestionID   uuid.UUID       `json:"question_id"`
	Payload      json.RawMessage `json:"payload"`
	Dirty        bool            `json:"dirty"`
	EditSeq      uint64          `json:"edit_seq"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	SyncAttempts int             `json:"sync_attempts"`
}

// Buffer holds per-question answer drafts and their persistence status.
//
// Writes are last-writer-wins per question. Sync acknowledgments use a
// compare-and-set on a per-question edit counter so a save completion for an
// older edit can never clear the dirty flag of a newer one.
type Buffer struct {
	mu     sync.Mutex
	drafts map[uuid.UUID]*Draft
	order  []uuid.UUID
}

// NewBuffer creates an empty response buffer.
func NewBuffer() *Buffer {
	return &Buffer{drafts: make(map[uuid.UUID]*Draft)}
}

// SetAnswer stores the payload for a question, overwriting any prior unsynced
// value, marks the draft dirty and returns the new edit sequence number.
func (b *Buffer) SetAnswer(questionID uuid.UUID, payload json.RawMessage) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[questionID]
	if !ok {
		d = &Draft{QuestionID: questionID}
		b.drafts[questionID] = d
		b.order = append(b.order, questionID)
	}
	d.Payload = payload
	d.Dirty = true
	d.EditSeq++
	return d.EditSeq
}

// Restore preloads a server-acknowledged draft, e.g. on session resume. The
// draft starts clean; a later SetAnswer dirties it again. editSeq resumes
// the persisted edit counter so new edits always outrank the stored row.
func (b *Buffer) Restore(questionID uuid.UUID, payload json.RawMessage, editSeq uint64, syncedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.drafts[questionID]; ok {
		return // live edits win over restored state
	}
	b.drafts[questionID] = &Draft{
		QuestionID:   questionID,
		Payload:      payload,
		EditSeq:      editSeq,
		LastSyncedAt: syncedAt,
	}
	b.order = append(b.order, questionID)
}

// MarkSynced clears the dirty flag only if no newer edit occurred after the
// save was initiated (editSeq is the sequence captured at snapshot time).
// Returns whether the draft is now clean.
func (b *Buffer) MarkSynced(questionID uuid.UUID, editSeq uint64, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[questionID]
	if !ok {
		return false
	}
	d.LastSyncedAt = at
	d.SyncAttempts = 0
	if d.EditSeq != editSeq {
		return false // edited mid-flight, stays dirty
	}
	d.Dirty = false
	return true
}

// MarkFailed records one failed save attempt and returns the running count.
// The draft stays dirty and will be retried.
func (b *Buffer) MarkFailed(questionID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[questionID]
	if !ok {
		return 0
	}
	d.SyncAttempts++
	return d.SyncAttempts
}

// Pending returns a snapshot of all dirty drafts in first-interaction order.
func (b *Buffer) Pending() []Draft {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Draft
	for _, id := range b.order {
		if d := b.drafts[id]; d.Dirty {
			out = append(out, *d)
		}
	}
	return out
}

// Drafts returns a snapshot of all drafts, dirty or not.
func (b *Buffer) Drafts() []Draft {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Draft, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.drafts[id])
	}
	return out
}

// Get returns a copy of one draft.
func (b *Buffer) Get(questionID uuid.UUID) (Draft, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drafts[questionID]
	if !ok {
		return Draft{}, false
	}
	return *d, true
}

// DirtyCount returns the number of drafts awaiting acknowledgment.
func (b *Buffer) DirtyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, d := range b.drafts {
		if d.Dirty {
			n++
		}
	}
	return n
}
