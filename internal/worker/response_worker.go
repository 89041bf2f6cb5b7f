package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
)

// ResponseWorker consumes persist_responses_queue and UPSERTs answer drafts
// to PostgreSQL. Writes carry the edit sequence of the draft so a replayed
// queue item can never roll a row back.
type ResponseWorker struct {
	responses *repository.ResponseRepository
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewResponseWorker creates a new ResponseWorker.
func NewResponseWorker(responses *repository.ResponseRepository, rdb *redis.Client, log zerolog.Logger) *ResponseWorker {
	return &ResponseWorker{
		responses: responses,
		rdb:       rdb,
		log:       log.With().Str("component", "response_worker").Logger(),
	}
}

// ResponsePayload is the queue item enqueued on every accepted save.
type ResponsePayload struct {
	AttemptID  string          `json:"attempt_id"`
	QuestionID string          `json:"question_id"`
	Payload    json.RawMessage `json:"payload"`
	EditSeq    int64           `json:"edit_seq"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ResponseWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ResponseWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistResponsesQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload ResponsePayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persist(ctx, &payload); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", payload.AttemptID).
			Str("question_id", payload.QuestionID).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistResponsesQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ResponseWorker) persist(ctx context.Context, p *ResponsePayload) error {
	attemptID, err := uuid.Parse(p.AttemptID)
	if err != nil {
		return err
	}

	questionID, err := uuid.Parse(p.QuestionID)
	if err != nil {
		return err
	}

	return w.responses.Upsert(ctx, attemptID, questionID, p.Payload, p.EditSeq)
}

// drain processes all remaining items in the queue before shutdown.
func (w *ResponseWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistResponsesQueue).Result()
		if err != nil {
			break
		}

		var payload ResponsePayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persist(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistResponsesQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
