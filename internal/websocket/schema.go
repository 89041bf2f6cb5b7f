package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer      Action = "answer"
	ActionFlush       Action = "flush"
	ActionSignal      Action = "signal"
	ActionSubmit      Action = "submit"
	ActionRetrySubmit Action = "retry_submit"
	ActionPing        Action = "ping"
)

// RequestPayload is the client message envelope. Fields beyond Action are
// action-specific: QID and Payload for answer, Kind and Detail for signal.
type RequestPayload struct {
	Action  Action          `json:"action"`
	QID     string          `json:"q_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventAck   Event = "ack"
	EventPong  Event = "pong"
)

// AckResponse confirms an accepted client action.
type AckResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
