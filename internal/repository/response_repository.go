package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// ResponseRepository handles answer draft persistence.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// Upsert creates or updates a draft without locking. The edit_seq guard
// makes the write idempotent and order-safe: a replayed or late save whose
// sequence is older than the stored row leaves the row untouched.
func (r *ResponseRepository) Upsert(ctx context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, editSeq int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_responses (attempt_id, question_id, payload, edit_seq)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET payload = EXCLUDED.payload, edit_seq = EXCLUDED.edit_seq, updated_at = NOW()
		 WHERE attempt_responses.edit_seq < EXCLUDED.edit_seq`,
		attemptID, questionID, payload, editSeq,
	)
	return err
}

// ListByAttempt retrieves every persisted draft of an attempt, used to
// restore the response buffer on rejoin.
func (r *ResponseRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, payload, edit_seq, updated_at
		 FROM attempt_responses
		 WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(&resp.AttemptID, &resp.QuestionID, &resp.Payload, &resp.EditSeq, &resp.UpdatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
