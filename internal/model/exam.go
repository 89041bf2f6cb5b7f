package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates exam publication states.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is the minimal exam surface the session engine needs: the join
// window, the duration, and the question set.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	Status          ExamStatus `json:"status"`
}

// DeadlineFor computes the hard deadline for an attempt started at the given
// time: startedAt + duration, capped by the exam's own end time when that is
// earlier.
func (e *Exam) DeadlineFor(startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.EndsAt != nil && e.EndsAt.Before(deadline) {
		deadline = *e.EndsAt
	}
	return deadline
}
