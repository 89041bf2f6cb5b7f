package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Autosaver periodically flushes dirty drafts to the gateway without ever
// blocking user edits. Saves are retried without bound while the attempt is
// in progress: a duplicate save of an idempotent endpoint is cheaper than a
// lost answer.
type Autosaver struct {
	buffer    *Buffer
	gw        Gateway
	attemptID uuid.UUID
	emit      func(func())
	emitter   Emitter
	clock     Clock
	interval  time.Duration
	warnAfter int
	log       zerolog.Logger
}

func newAutosaver(
	buffer *Buffer,
	gw Gateway,
	attemptID uuid.UUID,
	emitter Emitter,
	safeEmit func(func()),
	clock Clock,
	interval time.Duration,
	warnAfter int,
	log zerolog.Logger,
) *Autosaver {
	return &Autosaver{
		buffer:    buffer,
		gw:        gw,
		attemptID: attemptID,
		emitter:   emitter,
		emit:      safeEmit,
		clock:     clock,
		interval:  interval,
		warnAfter: warnAfter,
		log:       log.With().Str("component", "autosaver").Logger(),
	}
}

// run is the interval loop. It exits when done is closed.
func (a *Autosaver) run(done <-chan struct{}) {
	t := time.NewTicker(a.interval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.interval)
			if err := a.Flush(ctx); err != nil {
				a.log.Debug().Err(err).Msg("autosave flush incomplete, will retry")
			}
			cancel()
		}
	}
}

// Flush issues one save per pending draft. The pending set is a snapshot:
// edits made while a save is in flight are protected by the buffer's edit
// counter compare-and-set and simply stay dirty for the next pass.
// Returns the last save error, nil if every pending draft was acknowledged.
func (a *Autosaver) Flush(ctx context.Context) error {
	var lastErr error

	for _, d := range a.buffer.Pending() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := a.gw.SaveResponse(ctx, a.attemptID, d.QuestionID, d.Payload, d.EditSeq); err != nil {
			lastErr = err
			attempts := a.buffer.MarkFailed(d.QuestionID)
			if attempts == a.warnAfter {
				qid := d.QuestionID
				a.emit(func() { a.emitter.SaveFailed(qid, attempts) })
			}
			continue
		}
		a.buffer.MarkSynced(d.QuestionID, d.EditSeq, a.clock.Now())
	}
	return lastErr
}
