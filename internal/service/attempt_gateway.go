package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/events"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
	"github.com/DeepStacker/dsba-lms-sub001/internal/worker"
)

// AttemptGateway is the production session.Gateway: PostgreSQL holds the
// source of truth, Redis carries the hot state (draft cache, work queues,
// monitor Pub/Sub) and Kafka receives the proctor event stream.
type AttemptGateway struct {
	attempts  *repository.AttemptRepository
	exams     *repository.ExamRepository
	responses *repository.ResponseRepository
	rdb       *redis.Client
	publisher events.Publisher
	log       zerolog.Logger

	mu   sync.Mutex
	meta map[uuid.UUID]attemptMeta // live attempts only, seeded on Join
}

type attemptMeta struct {
	ExamID    uuid.UUID
	StudentID int
}

// draftEnvelope is the per-question value stored in the Redis draft hash.
type draftEnvelope struct {
	Payload  json.RawMessage `json:"payload"`
	EditSeq  uint64          `json:"edit_seq"`
	SyncedAt time.Time       `json:"synced_at"`
}

// NewAttemptGateway creates a new AttemptGateway.
func NewAttemptGateway(
	attempts *repository.AttemptRepository,
	exams *repository.ExamRepository,
	responses *repository.ResponseRepository,
	rdb *redis.Client,
	publisher events.Publisher,
	log zerolog.Logger,
) *AttemptGateway {
	return &AttemptGateway{
		attempts:  attempts,
		exams:     exams,
		responses: responses,
		rdb:       rdb,
		publisher: publisher,
		log:       log.With().Str("component", "attempt_gateway").Logger(),
		meta:      make(map[uuid.UUID]attemptMeta),
	}
}

// Join validates the join window and creates or resumes the student's
// attempt. Joining is idempotent: a second call while an attempt is in
// progress resumes it with the persisted drafts; a call after the attempt
// turned terminal is rejected.
func (g *AttemptGateway) Join(ctx context.Context, examID uuid.UUID, studentID int) (*session.JoinResult, error) {
	exam, err := g.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &session.JoinRejectedError{Reason: "exam not found"}
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if exam.Status != model.ExamStatusPublished {
		return nil, &session.JoinRejectedError{Reason: "exam is not published"}
	}

	now := time.Now()
	if exam.StartsAt != nil && now.Before(*exam.StartsAt) {
		return nil, &session.JoinRejectedError{Reason: "join window has not opened yet"}
	}
	if exam.EndsAt != nil && now.After(*exam.EndsAt) {
		return nil, &session.JoinRejectedError{Reason: "join window has closed"}
	}

	attempt, err := g.findOrCreateAttempt(ctx, exam, studentID, now)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return nil, &session.JoinRejectedError{Reason: "attempt has already been submitted"}
	}

	questions, err := g.exams.GetQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}

	drafts, err := g.restoreDrafts(ctx, attempt.ID)
	if err != nil {
		// Drafts are a convenience; a restore failure must not block the
		// attempt itself.
		g.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Draft restore failed")
		drafts = nil
	}

	g.mu.Lock()
	g.meta[attempt.ID] = attemptMeta{ExamID: attempt.ExamID, StudentID: attempt.StudentID}
	g.mu.Unlock()

	g.publishMonitor(ctx, attempt.ExamID, monitorEvent{
		Type:      "attempt_joined",
		AttemptID: attempt.ID,
		StudentID: attempt.StudentID,
		Status:    attempt.Status,
	})

	return &session.JoinResult{
		Attempt:   *attempt,
		Questions: questions,
		Drafts:    drafts,
	}, nil
}

func (g *AttemptGateway) findOrCreateAttempt(ctx context.Context, exam *model.Exam, studentID int, now time.Time) (*model.Attempt, error) {
	existing, err := g.attempts.GetByExamAndStudent(ctx, exam.ID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		g.cacheAttemptTimes(ctx, existing)
		return existing, nil
	}

	attempt := &model.Attempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		StudentID: studentID,
		Status:    model.AttemptStatusInProgress,
		StartedAt: now,
		Deadline:  exam.DeadlineFor(now),
	}

	if err := g.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent join: the other request won the insert.
			existing, fetchErr := g.attempts.GetByExamAndStudent(ctx, exam.ID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent join detected, but fetch failed: %w", fetchErr)
			}
			g.cacheAttemptTimes(ctx, existing)
			return existing, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	g.cacheAttemptTimes(ctx, attempt)
	return attempt, nil
}

// cacheAttemptTimes stores the start and deadline in Redis so state queries
// skip PostgreSQL. Failures are tolerated; readers fall back to the DB.
func (g *AttemptGateway) cacheAttemptTimes(ctx context.Context, a *model.Attempt) {
	id := a.ID.String()
	if err := g.rdb.Set(ctx, config.CacheKey.AttemptStartKey(id), a.StartedAt.Unix(), 0).Err(); err != nil {
		g.log.Warn().Err(err).Msg("Failed to cache attempt start time")
		return
	}
	if err := g.rdb.Set(ctx, config.CacheKey.AttemptDeadlineKey(id), a.Deadline.Unix(), 0).Err(); err != nil {
		g.log.Warn().Err(err).Msg("Failed to cache attempt deadline")
	}
}

// restoreDrafts prefers the Redis hash; on a cache miss it falls back to
// PostgreSQL and self-heals the cache.
func (g *AttemptGateway) restoreDrafts(ctx context.Context, attemptID uuid.UUID) ([]session.RestoredDraft, error) {
	key := config.CacheKey.AttemptDraftsKey(attemptID.String())

	cached, err := g.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read draft cache: %w", err)
	}

	if len(cached) > 0 {
		drafts := make([]session.RestoredDraft, 0, len(cached))
		for field, raw := range cached {
			questionID, err := uuid.Parse(field)
			if err != nil {
				continue
			}
			var env draftEnvelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				continue
			}
			drafts = append(drafts, session.RestoredDraft{
				QuestionID: questionID,
				Payload:    env.Payload,
				EditSeq:    env.EditSeq,
				SyncedAt:   env.SyncedAt,
			})
		}
		return drafts, nil
	}

	// Cache miss: the source of truth is PostgreSQL.
	rows, err := g.responses.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("read persisted drafts: %w", err)
	}

	drafts := make([]session.RestoredDraft, 0, len(rows))
	for _, row := range rows {
		drafts = append(drafts, session.RestoredDraft{
			QuestionID: row.QuestionID,
			Payload:    row.Payload,
			EditSeq:    uint64(row.EditSeq),
			SyncedAt:   row.UpdatedAt,
		})
		// Self-heal so the next restore hits the cache.
		env, _ := json.Marshal(draftEnvelope{Payload: row.Payload, EditSeq: uint64(row.EditSeq), SyncedAt: row.UpdatedAt})
		_ = g.rdb.HSet(ctx, key, row.QuestionID.String(), env).Err()
	}
	return drafts, nil
}

// SaveResponse writes the draft through the Redis cache and enqueues it for
// the persist worker. Idempotent per (attempt, question, editSeq).
func (g *AttemptGateway) SaveResponse(ctx context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, editSeq uint64) error {
	env, err := json.Marshal(draftEnvelope{Payload: payload, EditSeq: editSeq, SyncedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	key := config.CacheKey.AttemptDraftsKey(attemptID.String())
	if err := g.rdb.HSet(ctx, key, questionID.String(), env).Err(); err != nil {
		return fmt.Errorf("cache draft: %w", err)
	}

	item, err := json.Marshal(worker.ResponsePayload{
		AttemptID:  attemptID.String(),
		QuestionID: questionID.String(),
		Payload:    payload,
		EditSeq:    int64(editSeq),
	})
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := g.rdb.RPush(ctx, config.WorkerKey.PersistResponsesQueue, item).Err(); err != nil {
		return fmt.Errorf("enqueue draft: %w", err)
	}
	return nil
}

// Submit records the terminal transition. The conditional UPDATE makes the
// call idempotent: a duplicate or racing submission is a no-op.
func (g *AttemptGateway) Submit(ctx context.Context, attemptID uuid.UUID, reason model.EndReason) error {
	status := model.AttemptStatusSubmitted
	if reason == model.EndReasonTimeout {
		status = model.AttemptStatusAutoSubmitted
	}

	if err := g.attempts.MarkSubmitted(ctx, attemptID, status, reason, time.Now()); err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}

	meta, ok := g.takeMeta(attemptID)
	if ok {
		g.publishMonitor(ctx, meta.ExamID, monitorEvent{
			Type:      "attempt_submitted",
			AttemptID: attemptID,
			StudentID: meta.StudentID,
			Status:    status,
			EndReason: string(reason),
		})
	}

	// The persist worker owns the queued drafts; only the hot caches go.
	id := attemptID.String()
	_ = g.rdb.Del(ctx,
		config.CacheKey.AttemptStartKey(id),
		config.CacheKey.AttemptDeadlineKey(id),
	).Err()

	return nil
}

// LogProctorEvent enqueues the event for persistence, streams it to the
// live monitor channel and publishes it to the broker. Only the persistence
// enqueue is load-bearing; the other two are best-effort.
func (g *AttemptGateway) LogProctorEvent(ctx context.Context, attemptID uuid.UUID, event model.ProctorEvent) error {
	item, err := json.Marshal(worker.ProctorPayload{
		AttemptID:  attemptID.String(),
		Kind:       string(event.Kind),
		Detail:     event.Detail,
		OccurredAt: event.OccurredAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal proctor item: %w", err)
	}
	if err := g.rdb.RPush(ctx, config.WorkerKey.PersistProctorQueue, item).Err(); err != nil {
		return fmt.Errorf("enqueue proctor event: %w", err)
	}

	meta, ok := g.peekMeta(attemptID)
	if !ok {
		return nil
	}

	g.publishMonitor(ctx, meta.ExamID, monitorEvent{
		Type:      "proctor_event",
		AttemptID: attemptID,
		StudentID: meta.StudentID,
		Kind:      string(event.Kind),
	})

	if err := g.publisher.PublishProctorEvent(ctx, events.ProctorEventMessage{
		AttemptID:  attemptID,
		ExamID:     meta.ExamID,
		StudentID:  meta.StudentID,
		Kind:       string(event.Kind),
		Detail:     event.Detail,
		OccurredAt: event.OccurredAt,
	}); err != nil {
		g.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("Broker publish failed")
	}
	return nil
}

// monitorEvent is the payload streamed over the exam's monitor channel.
type monitorEvent struct {
	Type      string              `json:"type"`
	AttemptID uuid.UUID           `json:"attempt_id"`
	StudentID int                 `json:"student_id"`
	Status    model.AttemptStatus `json:"status,omitempty"`
	EndReason string              `json:"end_reason,omitempty"`
	Kind      string              `json:"kind,omitempty"`
}

func (g *AttemptGateway) publishMonitor(ctx context.Context, examID uuid.UUID, ev monitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(examID.String())
	if err := g.rdb.Publish(ctx, channel, data).Err(); err != nil {
		g.log.Debug().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}

func (g *AttemptGateway) takeMeta(attemptID uuid.UUID) (attemptMeta, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	meta, ok := g.meta[attemptID]
	if ok {
		delete(g.meta, attemptID)
	}
	return meta, ok
}

func (g *AttemptGateway) peekMeta(attemptID uuid.UUID) (attemptMeta, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	meta, ok := g.meta[attemptID]
	return meta, ok
}
