package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
)

// AttemptService serves the read side: the student's exam list and the
// proctor dashboard views over persisted attempts.
type AttemptService struct {
	attempts *repository.AttemptRepository
	exams    *repository.ExamRepository
	proctor  *repository.ProctorRepository
	scorer   *session.Scorer
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts *repository.AttemptRepository,
	exams *repository.ExamRepository,
	proctor *repository.ProctorRepository,
	scorer *session.Scorer,
) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		exams:    exams,
		proctor:  proctor,
		scorer:   scorer,
	}
}

// ListAvailableExams returns the published exams students may join.
func (s *AttemptService) ListAvailableExams(ctx context.Context) ([]model.Exam, error) {
	return s.exams.ListPublished(ctx)
}

// GetAttempt loads one attempt row.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	return s.attempts.GetByID(ctx, attemptID)
}

// AttemptOverview is one dashboard row: the attempt with its risk band.
type AttemptOverview struct {
	model.Attempt
	RiskBand session.RiskBand `json:"risk_band"`
}

// ListExamAttempts returns every attempt of an exam with risk bands for the
// proctor dashboard.
func (s *AttemptService) ListExamAttempts(ctx context.Context, examID uuid.UUID) ([]AttemptOverview, error) {
	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	overviews := make([]AttemptOverview, 0, len(attempts))
	for _, a := range attempts {
		overviews = append(overviews, AttemptOverview{
			Attempt:  a,
			RiskBand: s.scorer.Band(a.RiskScore),
		})
	}
	return overviews, nil
}

// AttemptDetail is the drill-down view: the attempt plus its full event log
// and a score recomputed from that log.
type AttemptDetail struct {
	model.Attempt
	RiskBand    session.RiskBand               `json:"risk_band"`
	Events      []model.ProctorEvent           `json:"events"`
	EventCounts map[model.ProctorEventKind]int `json:"event_counts"`
}

// GetAttemptDetail loads one attempt with its proctor log. The returned
// score is recomputed from the persisted events, not read from the attempt
// row, so the dashboard always shows the auditable value.
func (s *AttemptService) GetAttemptDetail(ctx context.Context, attemptID uuid.UUID) (*AttemptDetail, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	eventLog, err := s.proctor.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list proctor events: %w", err)
	}

	counts, err := s.proctor.CountByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("count proctor events: %w", err)
	}

	score := s.scorer.Score(eventLog)
	attempt.RiskScore = score

	return &AttemptDetail{
		Attempt:     *attempt,
		RiskBand:    s.scorer.Band(score),
		Events:      eventLog,
		EventCounts: counts,
	}, nil
}
