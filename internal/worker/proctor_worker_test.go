package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
)

type captureStore struct {
	mu   sync.Mutex
	bulk [][]repository.PersistedProctorEvent
	rows []repository.PersistedProctorEvent
}

func (s *captureStore) BulkInsert(_ context.Context, batch []repository.PersistedProctorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = append(s.bulk, append([]repository.PersistedProctorEvent(nil), batch...))
	return nil
}

func (s *captureStore) Insert(_ context.Context, e repository.PersistedProctorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return nil
}

func (s *captureStore) batches() [][]repository.PersistedProctorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulk
}

// scriptedQueue hands out a fixed sequence of BLPop results, then cancels
// the worker's context and reports the cancellation the way a real client
// does when its blocking call is interrupted.
type scriptedQueue struct {
	mu     sync.Mutex
	pops   [][]string
	cancel context.CancelFunc
}

func (q *scriptedQueue) BLPop(ctx context.Context, _ time.Duration, _ ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pops) == 0 {
		q.cancel()
		cmd.SetErr(context.Canceled)
		return cmd
	}
	next := q.pops[0]
	q.pops = q.pops[1:]
	cmd.SetVal(next)
	return cmd
}

// Pipeline returns a pipeline whose Exec fails fast. The worker treats risk
// enqueue failures as non-fatal, so the tests only need it to not block.
func (q *scriptedQueue) Pipeline() redis.Pipeliner {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	return client.Pipeline()
}

func queueItem(t *testing.T, attemptID uuid.UUID, kind model.ProctorEventKind) string {
	t.Helper()
	data, err := json.Marshal(ProctorPayload{
		AttemptID:  attemptID.String(),
		Kind:       string(kind),
		OccurredAt: time.Now().Unix(),
	})
	require.NoError(t, err)
	return string(data)
}

func runUntilStopped(t *testing.T, ctx context.Context, w *ProctorWorker) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestProctorWorkerDrainsBatchOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attemptID := uuid.New()
	store := &captureStore{}
	queue := &scriptedQueue{
		pops: [][]string{
			{config.WorkerKey.PersistProctorQueue, queueItem(t, attemptID, model.ProctorTabSwitch)},
		},
		cancel: cancel,
	}

	w := NewProctorWorker(store, queue, zerolog.Nop())
	runUntilStopped(t, ctx, w)

	// The buffered event was never old or large enough to flush on its own;
	// it must still reach storage on the way out.
	batches := store.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, attemptID, batches[0][0].AttemptID)
	assert.Equal(t, model.ProctorTabSwitch, batches[0][0].Kind)
}

func TestProctorWorkerDiscardsMalformedItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attemptID := uuid.New()
	store := &captureStore{}
	queue := &scriptedQueue{
		pops: [][]string{
			{config.WorkerKey.PersistProctorQueue, "{not json"},
			{config.WorkerKey.PersistProctorQueue, queueItem(t, attemptID, model.ProctorPaste)},
		},
		cancel: cancel,
	}

	w := NewProctorWorker(store, queue, zerolog.Nop())
	runUntilStopped(t, ctx, w)

	batches := store.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, attemptID, batches[0][0].AttemptID)
}
