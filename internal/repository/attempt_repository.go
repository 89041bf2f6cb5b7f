package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt for the exam-student pair. When a concurrent
// join already inserted one, ON CONFLICT DO NOTHING makes the RETURNING scan
// come back empty and pgx.ErrNoRows is returned; callers refetch instead.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, status, started_at, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.ID, a.ExamID, a.StudentID, a.Status, a.StartedAt, a.Deadline,
	).Scan(&a.ID, &a.StartedAt)
}

// GetByExamAndStudent retrieves the attempt for a specific exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, started_at, deadline, submitted_at, end_reason, risk_score
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID))
}

// GetByID retrieves an attempt by its primary key.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, started_at, deadline, submitted_at, end_reason, risk_score
		 FROM attempts
		 WHERE id = $1`, id))
}

// MarkSubmitted records the terminal transition. The status guard makes the
// call idempotent: a retry or a racing duplicate finds zero rows affected
// and that is fine, the first write already holds.
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, status model.AttemptStatus, reason model.EndReason, at time.Time) error {
	if !status.Terminal() {
		return errors.New("MarkSubmitted requires a terminal status")
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, end_reason = $2, submitted_at = $3
		 WHERE id = $4 AND status = $5`,
		status, reason, at, id, model.AttemptStatusInProgress)
	return err
}

// UpdateRiskScore persists a recomputed risk score.
func (r *AttemptRepository) UpdateRiskScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts SET risk_score = $1 WHERE id = $2`, score, id)
	return err
}

// ListByExam retrieves every attempt of an exam, newest first, for the
// proctor dashboard.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, status, started_at, deadline, submitted_at, end_reason, risk_score
		 FROM attempts
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.Deadline, &a.SubmittedAt, &a.EndReason, &a.RiskScore); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *AttemptRepository) scanOne(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.Deadline, &a.SubmittedAt, &a.EndReason, &a.RiskScore)
	if err != nil {
		return nil, err
	}
	return a, nil
}
