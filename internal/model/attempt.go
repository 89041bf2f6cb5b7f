package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states. Once a terminal state
// is reached the status never reverts.
type AttemptStatus string

const (
	AttemptStatusNotStarted    AttemptStatus = "NOT_STARTED"
	AttemptStatusInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted     AttemptStatus = "SUBMITTED"
	AttemptStatusAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
)

// Terminal reports whether the status is absorbing.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusAutoSubmitted
}

// EndReason records what caused an attempt to end.
type EndReason string

const (
	EndReasonUser    EndReason = "user_submit"
	EndReasonTimeout EndReason = "timeout"
)

// Attempt represents one student's timed occupancy of one exam.
type Attempt struct {
	ID          uuid.UUID     `json:"id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	StudentID   int           `json:"student_id"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	Deadline    time.Time     `json:"deadline"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	EndReason   *EndReason    `json:"end_reason,omitempty"`
	RiskScore   int           `json:"risk_score"`
}

// JoinAttemptRequest is the payload for a student joining an exam.
type JoinAttemptRequest struct {
	ExamID string `json:"exam_id" binding:"required,uuid"`
}
