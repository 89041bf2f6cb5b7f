package session

import (
	"strconv"
	"strings"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// RiskBand is a coarse presentation bucket for a risk score. Bands drive UI
// coloring only; they never trigger automated session actions.
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// RiskWeights maps each proctor event kind to its score contribution.
type RiskWeights map[model.ProctorEventKind]int

// DefaultRiskWeights weighs every event kind equally.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		model.ProctorTabSwitch:      1,
		model.ProctorFocusLoss:      1,
		model.ProctorPaste:          1,
		model.ProctorFullscreenExit: 1,
		model.ProctorForbiddenKey:   1,
		model.ProctorNetworkDrop:    1,
	}
}

// ParseRiskWeights reads a "kind=weight,kind=weight" spec from configuration
// and overlays it on the defaults. Unknown kinds and malformed entries are
// ignored.
func ParseRiskWeights(spec string) RiskWeights {
	w := DefaultRiskWeights()
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		kind := model.ProctorEventKind(parts[0])
		if !kind.Valid() {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			continue
		}
		w[kind] = n
	}
	return w
}

// Scorer computes a deterministic risk score from a proctor event log.
// Score(events) is a pure function: replaying the same event sequence always
// yields the same score, which allows server-side recomputation for audit.
type Scorer struct {
	weights  RiskWeights
	mediumAt int
	highAt   int
}

// NewScorer creates a Scorer with the given weights and default band
// thresholds (medium at 5, high at 10).
func NewScorer(weights RiskWeights) *Scorer {
	if weights == nil {
		weights = DefaultRiskWeights()
	}
	return &Scorer{weights: weights, mediumAt: 5, highAt: 10}
}

// Weight returns the score contribution of one event kind.
func (s *Scorer) Weight(kind model.ProctorEventKind) int {
	return s.weights[kind]
}

// Score sums the weights over the event log.
func (s *Scorer) Score(events []model.ProctorEvent) int {
	total := 0
	for _, ev := range events {
		total += s.weights[ev.Kind]
	}
	return total
}

// Band buckets a score for presentation.
func (s *Scorer) Band(score int) RiskBand {
	switch {
	case score >= s.highAt:
		return RiskHigh
	case score >= s.mediumAt:
		return RiskMedium
	default:
		return RiskLow
	}
}
