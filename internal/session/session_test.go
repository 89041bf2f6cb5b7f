package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// ─── test doubles ───────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type savedCall struct {
	QuestionID uuid.UUID
	Payload    json.RawMessage
}

type fakeGateway struct {
	mu         sync.Mutex
	joinResult *JoinResult
	joinErr    error
	saveErr    error
	saveErrFor map[uuid.UUID]error
	saveHook   func(questionID uuid.UUID)
	submitErr  error
	saves      []savedCall
	submits    []model.EndReason
	proctored  []model.ProctorEvent
	proctorCh  chan model.ProctorEvent
}

func newFakeGateway(res *JoinResult) *fakeGateway {
	return &fakeGateway{joinResult: res, proctorCh: make(chan model.ProctorEvent, 16)}
}

func (g *fakeGateway) Join(ctx context.Context, examID uuid.UUID, studentID int) (*JoinResult, error) {
	if g.joinErr != nil {
		return nil, g.joinErr
	}
	return g.joinResult, nil
}

func (g *fakeGateway) SaveResponse(ctx context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, editSeq uint64) error {
	g.mu.Lock()
	hook := g.saveHook
	err := g.saveErr
	if qerr, ok := g.saveErrFor[questionID]; ok {
		err = qerr
	}
	g.mu.Unlock()

	if hook != nil {
		hook(questionID)
	}
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.saves = append(g.saves, savedCall{QuestionID: questionID, Payload: payload})
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) Submit(ctx context.Context, attemptID uuid.UUID, reason model.EndReason) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return g.submitErr
	}
	g.submits = append(g.submits, reason)
	return nil
}

func (g *fakeGateway) LogProctorEvent(ctx context.Context, attemptID uuid.UUID, event model.ProctorEvent) error {
	g.mu.Lock()
	g.proctored = append(g.proctored, event)
	g.mu.Unlock()
	select {
	case g.proctorCh <- event:
	default:
	}
	return nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *fakeGateway) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.saves)
}

func (g *fakeGateway) setSaveErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saveErr = err
}

func (g *fakeGateway) setSubmitErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

type recordEmitter struct {
	mu          sync.Mutex
	ticks       []time.Duration
	warnings    []Warning
	saveFails   []uuid.UUID
	states      []model.AttemptStatus
	submitFails []error
	panicOnWarn bool
}

func (e *recordEmitter) Tick(remaining time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks = append(e.ticks, remaining)
}

func (e *recordEmitter) Warn(w Warning) {
	e.mu.Lock()
	panicking := e.panicOnWarn
	if !panicking {
		e.warnings = append(e.warnings, w)
	}
	e.mu.Unlock()
	if panicking {
		panic("broken warning listener")
	}
}

func (e *recordEmitter) SaveFailed(questionID uuid.UUID, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saveFails = append(e.saveFails, questionID)
}

func (e *recordEmitter) StateChanged(status model.AttemptStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, status)
}

func (e *recordEmitter) SubmitFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitFails = append(e.submitFails, err)
}

func (e *recordEmitter) warningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.warnings)
}

// newTestSession builds a joined session with inert background loops (huge
// intervals) so tests drive ticks and flushes explicitly.
func newTestSession(t *testing.T, clk *fakeClock, gw *fakeGateway, emit Emitter, ttl time.Duration) *Session {
	t.Helper()

	if gw.joinResult == nil {
		gw.joinResult = &JoinResult{
			Attempt: model.Attempt{
				ID:        uuid.New(),
				ExamID:    uuid.New(),
				StudentID: 7,
				Status:    model.AttemptStatusInProgress,
				StartedAt: clk.Now(),
				Deadline:  clk.Now().Add(ttl),
			},
		}
	}

	cfg := Config{
		TickInterval:      time.Hour,
		AutosaveInterval:  time.Hour,
		FinalFlushTimeout: 50 * time.Millisecond,
		SubmitTimeout:     time.Second,
		SaveFailWarnAfter: 3,
		Clock:             clk,
		Logger:            zerolog.Nop(),
	}
	s, err := Join(context.Background(), cfg, gw, emit, gw.joinResult.Attempt.ExamID, 7)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// ─── state machine ──────────────────────────────────────────────────

func TestAutoSubmitExactlyOnce(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	emit := &recordEmitter{}
	s := newTestSession(t, clk, gw, emit, 2*time.Second)

	clk.Advance(time.Second)
	s.handleTick(clk.Now())
	assert.Equal(t, model.AttemptStatusInProgress, s.Status())
	assert.Zero(t, gw.submitCount())

	clk.Advance(time.Second)
	s.handleTick(clk.Now())
	assert.Equal(t, model.AttemptStatusAutoSubmitted, s.Status())
	assert.Equal(t, 1, gw.submitCount())

	// Late or duplicate expired ticks must be no-ops.
	clk.Advance(time.Second)
	s.handleTick(clk.Now())
	s.handleTick(clk.Now())
	assert.Equal(t, model.AttemptStatusAutoSubmitted, s.Status())
	assert.Equal(t, 1, gw.submitCount())

	require.Len(t, emit.states, 1)
	assert.Equal(t, model.AttemptStatusAutoSubmitted, emit.states[0])
	require.Len(t, gw.submits, 1)
	assert.Equal(t, model.EndReasonTimeout, gw.submits[0])
}

func TestUserSubmitWinsOverLateExpiry(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	s := newTestSession(t, clk, gw, &recordEmitter{}, 2*time.Second)

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, model.AttemptStatusSubmitted, s.Status())

	// The timer fires moments later; the state machine is already past
	// InProgress, so this collapses into a no-op.
	clk.Advance(3 * time.Second)
	s.handleTick(clk.Now())

	assert.Equal(t, model.AttemptStatusSubmitted, s.Status())
	require.Len(t, gw.submits, 1)
	assert.Equal(t, model.EndReasonUser, gw.submits[0])
}

func TestDuplicateUserSubmitIsNoOp(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	s := newTestSession(t, clk, gw, &recordEmitter{}, time.Minute)

	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, 1, gw.submitCount())
}

func TestJoinRejectedCreatesNothing(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.joinErr = &JoinRejectedError{Reason: "outside join window"}

	cfg := Config{Clock: newFakeClock(), Logger: zerolog.Nop()}
	s, err := Join(context.Background(), cfg, gw, nil, uuid.New(), 7)

	require.Error(t, err)
	assert.True(t, IsJoinRejected(err))
	assert.Nil(t, s)
	assert.Zero(t, gw.submitCount())
	assert.Zero(t, gw.saveCount())
}

func TestSubmitFailureKeepsLocalTerminalState(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	gw.setSubmitErr(errors.New("gateway timeout"))
	emit := &recordEmitter{}
	s := newTestSession(t, clk, gw, emit, time.Minute)

	err := s.Submit(context.Background())
	require.Error(t, err)

	// Local confirmation is irreversible: input locked, status terminal.
	assert.Equal(t, model.AttemptStatusSubmitted, s.Status())
	assert.ErrorIs(t, s.SetAnswer(uuid.New(), json.RawMessage(`"x"`)), ErrInputLocked)
	require.Len(t, emit.submitFails, 1)
	require.Error(t, s.SubmitErr())

	// Retry re-issues the same logical submission.
	gw.setSubmitErr(nil)
	require.NoError(t, s.RetrySubmit(context.Background()))
	assert.NoError(t, s.SubmitErr())
	assert.Equal(t, 1, gw.submitCount())
	require.Len(t, gw.submits, 1)
	assert.Equal(t, model.EndReasonUser, gw.submits[0])
}

func TestRetrySubmitWithoutFailure(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	s := newTestSession(t, clk, gw, &recordEmitter{}, time.Minute)

	assert.ErrorIs(t, s.RetrySubmit(context.Background()), ErrNoFailedSubmit)

	require.NoError(t, s.Submit(context.Background()))
	assert.NoError(t, s.RetrySubmit(context.Background())) // nothing to redo
	assert.Equal(t, 1, gw.submitCount())
}

func TestFinalFlushBeforeSubmit(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	s := newTestSession(t, clk, gw, &recordEmitter{}, 2*time.Second)

	q := uuid.New()
	require.NoError(t, s.SetAnswer(q, json.RawMessage(`{"selected_option":"B"}`)))

	clk.Advance(2 * time.Second)
	s.handleTick(clk.Now())

	assert.Equal(t, model.AttemptStatusAutoSubmitted, s.Status())
	require.Equal(t, 1, gw.saveCount())
	assert.Equal(t, q, gw.saves[0].QuestionID)
	assert.Equal(t, 1, gw.submitCount())
	assert.Zero(t, s.buffer.DirtyCount())
}

func TestFinalFlushBoundedByTimeout(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	// Saves hang until the flush context gives up; submission must still
	// proceed promptly.
	gw.saveHook = func(uuid.UUID) { time.Sleep(80 * time.Millisecond) }
	gw.setSaveErr(errors.New("network dead"))
	s := newTestSession(t, clk, gw, &recordEmitter{}, time.Minute)

	require.NoError(t, s.SetAnswer(uuid.New(), json.RawMessage(`"a"`)))
	require.NoError(t, s.SetAnswer(uuid.New(), json.RawMessage(`"b"`)))

	start := time.Now()
	err := s.Submit(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.AttemptStatusSubmitted, s.Status())
	assert.Equal(t, 1, gw.submitCount())
	// The unsent drafts were never silently dropped: still dirty.
	assert.NotZero(t, s.buffer.DirtyCount())
}

func TestCloseIsIdempotentAndTearsDown(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	s := newTestSession(t, clk, gw, &recordEmitter{}, time.Minute)

	s.Close()
	s.Close()

	select {
	case <-s.done:
	default:
		t.Fatal("done channel should be closed after Close")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	clk := newFakeClock()
	examID := uuid.New()
	gw := newFakeGateway(&JoinResult{
		Attempt: model.Attempt{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: 7,
			Status:    model.AttemptStatusInProgress,
			StartedAt: clk.Now(),
			Deadline:  clk.Now().Add(time.Minute),
		},
	})

	reg := NewRegistry(Config{
		TickInterval:     time.Hour,
		AutosaveInterval: time.Hour,
		Clock:            clk,
		Logger:           zerolog.Nop(),
	}, gw, zerolog.Nop())

	s1, hub1, err := reg.Join(context.Background(), examID, 7)
	require.NoError(t, err)
	require.NotNil(t, hub1)
	assert.Equal(t, 1, reg.Len())

	// Rejoining resumes the same engine.
	s2, _, err := reg.Join(context.Background(), examID, 7)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, reg.Len())

	// Terminal state removes and tears the session down.
	require.NoError(t, s1.Submit(context.Background()))
	assert.Zero(t, reg.Len())
	_, _, ok := reg.Get(s1.Attempt().ID)
	assert.False(t, ok)
}
