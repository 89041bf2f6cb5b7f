package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

func TestMonitorOneWarningPerEvent(t *testing.T) {
	clk := newFakeClock()
	m := NewMonitor(NewScorer(DefaultRiskWeights()), clk, 4*time.Second)

	signals := []Signal{
		{Kind: model.ProctorTabSwitch},
		{Kind: model.ProctorTabSwitch},
		{Kind: model.ProctorPaste, Detail: "clipboard length 142"},
	}
	for _, sig := range signals {
		ev, w, err := m.Observe(sig)
		require.NoError(t, err)
		assert.Equal(t, sig.Kind, ev.Kind)
		assert.Equal(t, clk.Now(), ev.OccurredAt)
		assert.NotEmpty(t, w.Message)
		assert.Equal(t, 4*time.Second, w.ShowFor)
	}

	events := m.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "clipboard length 142", events[2].Detail)
	assert.Equal(t, 3, m.Score())
}

func TestMonitorRejectsUnknownSignal(t *testing.T) {
	m := NewMonitor(NewScorer(DefaultRiskWeights()), newFakeClock(), time.Second)

	_, _, err := m.Observe(Signal{Kind: "telepathy"})
	assert.ErrorIs(t, err, ErrUnknownSignal)
	assert.Empty(t, m.Events())
	assert.Zero(t, m.Score())
}

func TestMonitorEventLogIsAppendOnlyCopy(t *testing.T) {
	m := NewMonitor(NewScorer(DefaultRiskWeights()), newFakeClock(), time.Second)
	_, _, _ = m.Observe(Signal{Kind: model.ProctorForbiddenKey, Detail: "ctrl+c"})

	events := m.Events()
	events[0].Detail = "tampered"

	fresh := m.Events()
	assert.Equal(t, "ctrl+c", fresh[0].Detail)
}

func TestSignalThroughSession(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	emit := &recordEmitter{}
	s := newTestSession(t, clk, gw, emit, time.Minute)

	require.NoError(t, s.Signal(Signal{Kind: model.ProctorTabSwitch}))
	require.NoError(t, s.Signal(Signal{Kind: model.ProctorForbiddenKey, Detail: "ctrl+v"}))

	assert.Equal(t, 2, emit.warningCount())
	assert.Equal(t, 2, s.RiskScore())
	require.Len(t, s.ProctorEvents(), 2)

	// The proctor log forwarding is fire-and-forget on a goroutine.
	for i := 0; i < 2; i++ {
		select {
		case <-gw.proctorCh:
		case <-time.After(2 * time.Second):
			t.Fatal("proctor event was not forwarded")
		}
	}
}

func TestSignalIgnoredAfterTerminal(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	emit := &recordEmitter{}
	s := newTestSession(t, clk, gw, emit, time.Minute)

	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.Signal(Signal{Kind: model.ProctorTabSwitch}))

	assert.Zero(t, emit.warningCount())
	assert.Empty(t, s.ProctorEvents())
}

func TestPanickingWarningListenerIsIsolated(t *testing.T) {
	clk := newFakeClock()
	gw := newFakeGateway(nil)
	emit := &recordEmitter{panicOnWarn: true}
	s := newTestSession(t, clk, gw, emit, time.Minute)

	require.NoError(t, s.Signal(Signal{Kind: model.ProctorPaste}))

	// The event made it into the log despite the broken listener, and the
	// session keeps working.
	require.Len(t, s.ProctorEvents(), 1)
	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, model.AttemptStatusSubmitted, s.Status())
}
