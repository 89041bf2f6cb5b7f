package model

import (
	"time"
)

// ProctorEventKind classifies observed integrity-violation signals.
type ProctorEventKind string

const (
	ProctorTabSwitch      ProctorEventKind = "tab_switch"
	ProctorFocusLoss      ProctorEventKind = "focus_loss"
	ProctorPaste          ProctorEventKind = "paste"
	ProctorFullscreenExit ProctorEventKind = "fullscreen_exit"
	ProctorForbiddenKey   ProctorEventKind = "forbidden_key"
	ProctorNetworkDrop    ProctorEventKind = "network_drop"
)

// Valid reports whether the kind is one of the enumerated variants.
func (k ProctorEventKind) Valid() bool {
	switch k {
	case ProctorTabSwitch, ProctorFocusLoss, ProctorPaste,
		ProctorFullscreenExit, ProctorForbiddenKey, ProctorNetworkDrop:
		return true
	}
	return false
}

// ProctorEvent is one append-only integrity observation. Never mutated
// after creation.
type ProctorEvent struct {
	Kind       ProctorEventKind `json:"kind"`
	OccurredAt time.Time        `json:"occurred_at"`
	Detail     string           `json:"detail,omitempty"`
}
