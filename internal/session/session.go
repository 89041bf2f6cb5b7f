package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// Session errors.
var (
	// ErrInputLocked is returned for edits or signals after the attempt
	// reached a terminal state. Input locks the instant a submission is
	// triggered, independent of network acknowledgment.
	ErrInputLocked = errors.New("attempt is no longer in progress")
	// ErrNoFailedSubmit is returned by RetrySubmit when there is nothing to
	// retry.
	ErrNoFailedSubmit = errors.New("no failed submission to retry")
)

// Config carries the session engine tunables. Zero values fall back to
// production defaults.
type Config struct {
	TickInterval      time.Duration
	AutosaveInterval  time.Duration
	FinalFlushTimeout time.Duration
	SubmitTimeout     time.Duration
	WarningDuration   time.Duration
	SaveFailWarnAfter int
	Weights           RiskWeights
	Clock             Clock
	Logger            zerolog.Logger

	// OnTerminal, when set, is invoked once after the session reaches a
	// terminal state and its background loops are torn down.
	OnTerminal func(attemptID uuid.UUID)
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = 5 * time.Second
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = 3 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.WarningDuration <= 0 {
		c.WarningDuration = 4 * time.Second
	}
	if c.SaveFailWarnAfter <= 0 {
		c.SaveFailWarnAfter = 25
	}
	if c.Weights == nil {
		c.Weights = DefaultRiskWeights()
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
	return c
}

// Session is the attempt session state machine: the single owner of one live
// Attempt. All other components feed it events; it alone mutates the attempt
// and it alone calls the submit endpoint.
//
// The lifecycle is NotStarted → InProgress → {Submitted | AutoSubmitted},
// with terminal states absorbing. Event handling is serialized under one
// mutex (the engine's "logical thread"); blocking I/O never runs under it.
type Session struct {
	cfg      Config
	gw       Gateway
	emitter  Emitter
	clock    Clock
	log      zerolog.Logger
	buffer   *Buffer
	monitor  *Monitor
	autosave *Autosaver

	mu         sync.Mutex
	attempt    model.Attempt
	questions  []model.Question
	expired    bool
	submitting bool
	submitErr  error

	done      chan struct{}
	closeOnce sync.Once
}

// Join asks the exam service to create or resume an attempt and, on success,
// returns a running session with its ticker and autosave loops started. On
// failure (including *JoinRejectedError) no session is created and no state
// is mutated.
func Join(ctx context.Context, cfg Config, gw Gateway, emitter Emitter, examID uuid.UUID, studentID int) (*Session, error) {
	cfg = cfg.withDefaults()
	if emitter == nil {
		emitter = NopEmitter{}
	}

	res, err := gw.Join(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		gw:      gw,
		emitter: emitter,
		clock:   cfg.Clock,
		log: cfg.Logger.With().
			Str("component", "attempt_session").
			Str("attempt_id", res.Attempt.ID.String()).
			Logger(),
		buffer:    NewBuffer(),
		monitor:   NewMonitor(NewScorer(cfg.Weights), cfg.Clock, cfg.WarningDuration),
		attempt:   res.Attempt,
		questions: res.Questions,
		done:      make(chan struct{}),
	}
	for _, d := range res.Drafts {
		s.buffer.Restore(d.QuestionID, d.Payload, d.EditSeq, d.SyncedAt)
	}
	s.autosave = newAutosaver(
		s.buffer, gw, res.Attempt.ID, emitter, s.safeEmit,
		cfg.Clock, cfg.AutosaveInterval, cfg.SaveFailWarnAfter, s.log,
	)

	s.log.Info().
		Str("exam_id", res.Attempt.ExamID.String()).
		Int("student_id", res.Attempt.StudentID).
		Time("deadline", res.Attempt.Deadline).
		Int("restored_drafts", len(res.Drafts)).
		Msg("Attempt session started")

	go s.runTicker()
	go s.autosave.run(s.done)

	return s, nil
}

// Attempt returns a copy of the owned attempt.
func (s *Session) Attempt() model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Questions returns the question set established at join.
func (s *Session) Questions() []model.Question {
	return s.questions
}

// Status returns the current lifecycle state.
func (s *Session) Status() model.AttemptStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Status
}

// Remaining recomputes the time left from the wall clock and the absolute
// deadline. Zero once the attempt is terminal.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt.Status != model.AttemptStatusInProgress {
		return 0
	}
	return Remaining(s.clock.Now(), s.attempt.Deadline)
}

// Drafts exposes the response buffer snapshot for state reloads.
func (s *Session) Drafts() []Draft {
	return s.buffer.Drafts()
}

// ProctorEvents returns the append-only integrity event log.
func (s *Session) ProctorEvents() []model.ProctorEvent {
	return s.monitor.Events()
}

// RiskScore returns the accumulated risk score.
func (s *Session) RiskScore() int { return s.monitor.Score() }

// RiskBand returns the presentation band for the current score.
func (s *Session) RiskBand() RiskBand { return s.monitor.Band() }

// SubmitErr returns the last submission failure, nil when none.
func (s *Session) SubmitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitErr
}

// SetAnswer stores a draft edit. Rejected once input is locked.
func (s *Session) SetAnswer(questionID uuid.UUID, payload json.RawMessage) error {
	s.mu.Lock()
	status := s.attempt.Status
	s.mu.Unlock()
	if status != model.AttemptStatusInProgress {
		return ErrInputLocked
	}
	s.buffer.SetAnswer(questionID, payload)
	return nil
}

// Flush runs one opportunistic autosave pass, e.g. on question navigation.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	status := s.attempt.Status
	s.mu.Unlock()
	if status != model.AttemptStatusInProgress {
		return ErrInputLocked
	}
	return s.autosave.Flush(ctx)
}

// Signal feeds one integrity observation through the monitor: the event is
// appended to the log, the risk score accumulates, exactly one warning is
// emitted, and the event is forwarded to the proctor log fire-and-forget.
// Signals after a terminal state are ignored. A panicking emitter never
// crashes the session.
func (s *Session) Signal(sig Signal) error {
	s.mu.Lock()
	status := s.attempt.Status
	attemptID := s.attempt.ID
	s.mu.Unlock()
	if status != model.AttemptStatusInProgress {
		return nil
	}

	ev, warning, err := s.monitor.Observe(sig)
	if err != nil {
		return err
	}

	s.safeEmit(func() { s.emitter.Warn(warning) })

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.gw.LogProctorEvent(ctx, attemptID, ev); err != nil {
			// Best-effort: losing one proctor log entry is not fatal.
			s.log.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("Proctor event log dropped")
		}
	}()

	return nil
}

// Submit performs the user-confirmed explicit submission. Input locks and
// local status turns Submitted immediately; the returned error, if any, is
// the retryable network failure of the submit call itself. A Submit while a
// submission is already in flight or done is a no-op.
//
// The caller's context is intentionally unused: once the local state turns
// terminal, the final flush and submit call must outlive the request that
// triggered them, so finalize runs on its own timeouts.
func (s *Session) Submit(_ context.Context) error {
	return s.finalize(model.EndReasonUser)
}

// RetrySubmit re-issues the same logical submission after a failed submit
// call. Local status stays terminal throughout.
func (s *Session) RetrySubmit(ctx context.Context) error {
	s.mu.Lock()
	if !s.attempt.Status.Terminal() || s.submitting {
		s.mu.Unlock()
		return ErrNoFailedSubmit
	}
	if s.submitErr == nil {
		s.mu.Unlock()
		return nil
	}
	s.submitting = true
	attemptID := s.attempt.ID
	reason := model.EndReasonUser
	if s.attempt.EndReason != nil {
		reason = *s.attempt.EndReason
	}
	s.mu.Unlock()

	err := s.gw.Submit(ctx, attemptID, reason)

	s.mu.Lock()
	s.submitting = false
	s.submitErr = err
	s.mu.Unlock()

	if err != nil {
		s.safeEmit(func() { s.emitter.SubmitFailed(err) })
	}
	return err
}

// Close tears down the ticker, the autosave loop, and any pending retry
// schedules. Safe to call from any exit path, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.log.Info().Msg("Attempt session closed")
	})
}

// ─── internals ──────────────────────────────────────────────────────

func (s *Session) runTicker() {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.handleTick(s.clock.Now())
		}
	}
}

// handleTick recomputes the remaining time from the absolute deadline. The
// first tick that observes zero remaining triggers the auto-submission;
// later expired ticks are no-ops.
func (s *Session) handleTick(now time.Time) {
	s.mu.Lock()
	if s.attempt.Status != model.AttemptStatusInProgress {
		s.mu.Unlock()
		return
	}
	rem := Remaining(now, s.attempt.Deadline)
	if rem > 0 {
		s.mu.Unlock()
		s.safeEmit(func() { s.emitter.Tick(rem) })
		return
	}
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.mu.Unlock()

	s.safeEmit(func() { s.emitter.Tick(0) })
	s.log.Info().Msg("Deadline reached, auto-submitting")
	if err := s.finalize(model.EndReasonTimeout); err != nil {
		s.log.Error().Err(err).Msg("Auto-submit call failed, local state is terminal")
	}
}

// finalize is the single submission path for both triggers. Concurrent
// triggers collapse: whichever acquires the lock first wins, the other sees
// a terminal or in-flight state and becomes a no-op. The local transition is
// optimistic: it happens before the network call and never reverts.
func (s *Session) finalize(reason model.EndReason) error {
	s.mu.Lock()
	if s.attempt.Status.Terminal() || s.submitting {
		s.mu.Unlock()
		return nil
	}
	if s.attempt.Status != model.AttemptStatusInProgress {
		s.mu.Unlock()
		return ErrInputLocked
	}
	s.submitting = true
	now := s.clock.Now()
	if reason == model.EndReasonTimeout {
		s.attempt.Status = model.AttemptStatusAutoSubmitted
	} else {
		s.attempt.Status = model.AttemptStatusSubmitted
	}
	s.attempt.SubmittedAt = &now
	r := reason
	s.attempt.EndReason = &r
	status := s.attempt.Status
	attemptID := s.attempt.ID
	s.mu.Unlock()

	s.safeEmit(func() { s.emitter.StateChanged(status) })

	// Best-effort final flush, bounded: a dead network must not stall the
	// transition. Submission proceeds with or without its success.
	flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FinalFlushTimeout)
	if err := s.autosave.Flush(flushCtx); err != nil {
		s.log.Warn().Err(err).Msg("Final flush incomplete")
	}
	cancel()

	submitCtx, cancelSubmit := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	err := s.gw.Submit(submitCtx, attemptID, reason)
	cancelSubmit()

	s.mu.Lock()
	s.submitting = false
	s.submitErr = err
	s.mu.Unlock()

	if err != nil {
		s.safeEmit(func() { s.emitter.SubmitFailed(err) })
	}

	s.Close()
	if s.cfg.OnTerminal != nil {
		s.cfg.OnTerminal(attemptID)
	}
	return err
}

// safeEmit isolates emitter panics: a broken listener must never take the
// session down.
func (s *Session) safeEmit(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Emitter panicked")
		}
	}()
	fn()
}
