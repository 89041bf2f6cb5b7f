package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// RestoredDraft is a previously acknowledged answer returned on rejoin.
// EditSeq is the persisted edit counter; the buffer resumes from it so edits
// made after the resume outrank the stored row.
type RestoredDraft struct {
	QuestionID uuid.UUID       `json:"question_id"`
	Payload    json.RawMessage `json:"payload"`
	EditSeq    uint64          `json:"edit_seq"`
	SyncedAt   time.Time       `json:"synced_at"`
}

// JoinResult is what the exam service returns on a successful join: the
// attempt (freshly created or resumed) with its established deadline, the
// question set, and any drafts saved by an earlier connection.
type JoinResult struct {
	Attempt   model.Attempt
	Questions []model.Question
	Drafts    []RestoredDraft
}

// Gateway is the session engine's only window to the outside world. The
// transport and storage behind it are owned by the service layer; the engine
// relies solely on the contracts below.
//
// SaveResponse must be idempotent per (attempt, question) and is retried
// freely; editSeq is the buffer's per-question edit counter, forwarded so
// storage can reject out-of-order replays. Submit must be logically
// at-most-once per attempt; retrying the same logical submission over the
// network is acceptable. LogProctorEvent is fire-and-forget: failures are
// swallowed by the caller.
type Gateway interface {
	Join(ctx context.Context, examID uuid.UUID, studentID int) (*JoinResult, error)
	SaveResponse(ctx context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, editSeq uint64) error
	Submit(ctx context.Context, attemptID uuid.UUID, reason model.EndReason) error
	LogProctorEvent(ctx context.Context, attemptID uuid.UUID, event model.ProctorEvent) error
}

// JoinRejectedError reports that an attempt may not start: outside the join
// window, exam not published, or already submitted. A rejected join mutates
// no state.
type JoinRejectedError struct {
	Reason string
}

func (e *JoinRejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s", e.Reason)
}

// IsJoinRejected reports whether err is a join rejection.
func IsJoinRejected(err error) bool {
	var jre *JoinRejectedError
	return errors.As(err, &jre)
}
