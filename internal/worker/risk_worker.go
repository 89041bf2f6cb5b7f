package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
)

// RiskWorker consumes recompute_risk_queue, replays the persisted proctor
// event log through the scorer and stores the result on the attempt row.
// The recomputation is the audit path: because scoring is a pure function of
// the event log, the stored score always converges to the live one.
type RiskWorker struct {
	proctor  *repository.ProctorRepository
	attempts *repository.AttemptRepository
	scorer   *session.Scorer
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewRiskWorker creates a new RiskWorker.
func NewRiskWorker(
	proctor *repository.ProctorRepository,
	attempts *repository.AttemptRepository,
	scorer *session.Scorer,
	rdb *redis.Client,
	log zerolog.Logger,
) *RiskWorker {
	return &RiskWorker{
		proctor:  proctor,
		attempts: attempts,
		scorer:   scorer,
		rdb:      rdb,
		log:      log.With().Str("component", "risk_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *RiskWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RiskWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *RiskWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.RecomputeRiskQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	attemptID, err := uuid.Parse(result[1])
	if err != nil {
		w.log.Error().Str("attempt_id", result[1]).Msg("Discarding invalid attempt ID")
		return
	}

	if err := w.recompute(ctx, attemptID); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Recompute error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.RecomputeRiskQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *RiskWorker) recompute(ctx context.Context, attemptID uuid.UUID) error {
	events, err := w.proctor.ListByAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	return w.attempts.UpdateRiskScore(ctx, attemptID, w.scorer.Score(events))
}
