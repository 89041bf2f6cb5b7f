package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
)

// PersistedProctorEvent is a proctor event row bound to its attempt.
type PersistedProctorEvent struct {
	AttemptID  uuid.UUID              `json:"attempt_id"`
	Kind       model.ProctorEventKind `json:"kind"`
	Detail     string                 `json:"detail,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// ProctorRepository handles the append-only proctor event log.
type ProctorRepository struct {
	pool *pgxpool.Pool
}

// NewProctorRepository creates a new ProctorRepository.
func NewProctorRepository(pool *pgxpool.Pool) *ProctorRepository {
	return &ProctorRepository{pool: pool}
}

// BulkInsert writes a batch via COPY, the fast path for the persist worker.
func (r *ProctorRepository) BulkInsert(ctx context.Context, batch []PersistedProctorEvent) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []interface{}{e.AttemptID, e.Kind, e.Detail, e.OccurredAt})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_events"},
		[]string{"attempt_id", "kind", "detail", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert writes a single event, the row-by-row fallback path.
func (r *ProctorRepository) Insert(ctx context.Context, e PersistedProctorEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_events (attempt_id, kind, detail, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		e.AttemptID, e.Kind, e.Detail, e.OccurredAt)
	return err
}

// ListByAttempt retrieves the full event log of an attempt in occurrence
// order, the input for risk recomputation and audit.
func (r *ProctorRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.ProctorEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, detail, occurred_at
		 FROM proctor_events
		 WHERE attempt_id = $1
		 ORDER BY occurred_at ASC, id ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ProctorEvent
	for rows.Next() {
		var e model.ProctorEvent
		if err := rows.Scan(&e.Kind, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByAttempt returns per-kind event counts for the proctor dashboard.
func (r *ProctorRepository) CountByAttempt(ctx context.Context, attemptID uuid.UUID) (map[model.ProctorEventKind]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, COUNT(*)
		 FROM proctor_events
		 WHERE attempt_id = $1
		 GROUP BY kind`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.ProctorEventKind]int)
	for rows.Next() {
		var kind model.ProctorEventKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
