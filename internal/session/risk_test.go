package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

func TestScorerWeightedSum(t *testing.T) {
	s := NewScorer(RiskWeights{
		model.ProctorTabSwitch: 2,
		model.ProctorPaste:     3,
	})

	events := []model.ProctorEvent{
		{Kind: model.ProctorTabSwitch},
		{Kind: model.ProctorTabSwitch},
		{Kind: model.ProctorTabSwitch},
		{Kind: model.ProctorPaste},
	}
	assert.Equal(t, 9, s.Score(events))
}

func TestScorerReplayDeterministic(t *testing.T) {
	s := NewScorer(DefaultRiskWeights())
	events := []model.ProctorEvent{
		{Kind: model.ProctorFocusLoss},
		{Kind: model.ProctorFullscreenExit},
		{Kind: model.ProctorNetworkDrop},
	}
	assert.Equal(t, s.Score(events), s.Score(events))

	// The monitor's accumulated score matches a cold recomputation over its
	// own event log.
	m := NewMonitor(s, newFakeClock(), time.Second)
	_, _, _ = m.Observe(Signal{Kind: model.ProctorFocusLoss})
	_, _, _ = m.Observe(Signal{Kind: model.ProctorFullscreenExit})
	_, _, _ = m.Observe(Signal{Kind: model.ProctorNetworkDrop})
	assert.Equal(t, s.Score(m.Events()), m.Score())
}

func TestScorerBands(t *testing.T) {
	s := NewScorer(DefaultRiskWeights())

	assert.Equal(t, RiskLow, s.Band(0))
	assert.Equal(t, RiskLow, s.Band(4))
	assert.Equal(t, RiskMedium, s.Band(5))
	assert.Equal(t, RiskMedium, s.Band(9))
	assert.Equal(t, RiskHigh, s.Band(10))
	assert.Equal(t, RiskHigh, s.Band(100))
}

func TestParseRiskWeights(t *testing.T) {
	w := ParseRiskWeights("tab_switch=2, paste=3,bogus_kind=7,focus_loss=-1,paste=x")

	assert.Equal(t, 2, w[model.ProctorTabSwitch])
	assert.Equal(t, 3, w[model.ProctorPaste])
	// Unknown kinds, negative and malformed weights fall back to defaults.
	assert.Equal(t, 1, w[model.ProctorFocusLoss])
	assert.Equal(t, 1, w[model.ProctorFullscreenExit])
	assert.NotContains(t, w, model.ProctorEventKind("bogus_kind"))
}
