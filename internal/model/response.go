package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Response is a persisted answer draft. EditSeq mirrors the session buffer's
// per-question edit counter so replayed or out-of-order saves can never
// overwrite a newer payload.
type Response struct {
	AttemptID  uuid.UUID       `json:"attempt_id"`
	QuestionID uuid.UUID       `json:"question_id"`
	Payload    json.RawMessage `json:"payload"`
	EditSeq    int64           `json:"edit_seq"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
