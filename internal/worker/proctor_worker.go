package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// proctorStore is the slice of the proctor repository the worker needs.
type proctorStore interface {
	BulkInsert(ctx context.Context, batch []repository.PersistedProctorEvent) error
	Insert(ctx context.Context, e repository.PersistedProctorEvent) error
}

// proctorQueue is the slice of the Redis client the worker needs.
type proctorQueue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Pipeline() redis.Pipeliner
}

// ProctorWorker consumes persist_proctor_queue and bulk-inserts proctor
// events. After a successful flush it enqueues the touched attempts for risk
// recomputation.
type ProctorWorker struct {
	proctor proctorStore
	rdb     proctorQueue
	log     zerolog.Logger
}

// NewProctorWorker creates a new ProctorWorker.
func NewProctorWorker(proctor proctorStore, rdb proctorQueue, log zerolog.Logger) *ProctorWorker {
	return &ProctorWorker{
		proctor: proctor,
		rdb:     rdb,
		log:     log.With().Str("component", "proctor_worker").Logger(),
	}
}

// ProctorPayload is the queue item enqueued for every observed event.
type ProctorPayload struct {
	AttemptID  string `json:"attempt_id"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt int64  `json:"occurred_at"`
}

func (w *ProctorWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctorWorker started")

	buffer := make([]*ProctorPayload, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlush = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for 1 second. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProctorQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				// Cancellation surfaced through BLPop; the pending batch
				// still gets its final flush.
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload ProctorPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ProctorWorker) flushSafe(ctx context.Context, batch []*ProctorPayload) {
	if len(batch) == 0 {
		return
	}

	rows, bad := w.toRows(batch)
	if err := w.proctor.BulkInsert(ctx, rows); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	if bad > 0 {
		w.log.Error().Int("count", bad).Msg("Dropped proctor events with invalid attempt IDs")
	}

	w.enqueueRiskRecompute(ctx, rows)
}

func (w *ProctorWorker) toRows(batch []*ProctorPayload) ([]repository.PersistedProctorEvent, int) {
	rows := make([]repository.PersistedProctorEvent, 0, len(batch))
	bad := 0
	for _, p := range batch {
		attemptID, err := uuid.Parse(p.AttemptID)
		if err != nil {
			bad++
			continue
		}
		rows = append(rows, repository.PersistedProctorEvent{
			AttemptID:  attemptID,
			Kind:       model.ProctorEventKind(p.Kind),
			Detail:     p.Detail,
			OccurredAt: time.Unix(p.OccurredAt, 0),
		})
	}
	return rows, bad
}

func (w *ProctorWorker) fallbackInsert(ctx context.Context, batch []*ProctorPayload) {
	requeueList := make([]*ProctorPayload, 0)
	inserted := make([]repository.PersistedProctorEvent, 0, len(batch))

	for _, p := range batch {
		attemptID, err := uuid.Parse(p.AttemptID)
		if err != nil {
			w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping proctor event with invalid UUID")
			continue
		}

		row := repository.PersistedProctorEvent{
			AttemptID:  attemptID,
			Kind:       model.ProctorEventKind(p.Kind),
			Detail:     p.Detail,
			OccurredAt: time.Unix(p.OccurredAt, 0),
		}
		if err := w.proctor.Insert(ctx, row); err != nil {
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
			continue
		}
		inserted = append(inserted, row)
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
	w.enqueueRiskRecompute(ctx, inserted)
}

// enqueueRiskRecompute pushes each distinct attempt from the flushed batch
// onto the risk queue.
func (w *ProctorWorker) enqueueRiskRecompute(ctx context.Context, rows []repository.PersistedProctorEvent) {
	if len(rows) == 0 {
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(rows))
	pipe := w.rdb.Pipeline()
	for _, r := range rows {
		if _, ok := seen[r.AttemptID]; ok {
			continue
		}
		seen[r.AttemptID] = struct{}{}
		pipe.RPush(ctx, config.WorkerKey.RecomputeRiskQueue, r.AttemptID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("Failed to enqueue risk recomputation")
	}
}

func (w *ProctorWorker) requeue(ctx context.Context, items []*ProctorPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistProctorQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Back off to avoid thrashing if the DB is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *ProctorWorker) shutdown(buffer []*ProctorPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
