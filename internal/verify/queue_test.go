package verify

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/crosslogic/credit-plane/internal/config"
	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/pkg/cache"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupQueueCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	port, _ := strconv.Atoi(mr.Port())
	c, err := cache.NewCache(config.RedisConfig{Host: mr.Host(), Port: port})
	if err != nil {
		t.Fatalf("failed to init cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// fakeFinalizer records finalize calls.
type fakeFinalizer struct {
	mu    sync.Mutex
	calls map[string]int64
}

func (f *fakeFinalizer) FinalizeReservation(ctx context.Context, reservationID string, verifiedCost int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int64)
	}
	f.calls[reservationID] = verifiedCost
	return 0, nil
}

func (f *fakeFinalizer) get(reservationID string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cost, ok := f.calls[reservationID]
	return cost, ok
}

func TestPublishPushesRequest(t *testing.T) {
	c, mr := setupQueueCache(t)
	q := NewRedisQueue(c, zap.NewNop())

	err := q.Publish(context.Background(), credits.VerificationRequest{
		GenerationID:  "gen-1",
		ReservationID: "res-1",
		WorkspaceID:   "ws1",
	})
	require.NoError(t, err)

	raw, err := mr.Lpop(RequestQueueKey)
	require.NoError(t, err)

	var req credits.VerificationRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	require.Equal(t, "gen-1", req.GenerationID)
	require.Equal(t, "res-1", req.ReservationID)
}

func TestConsumerFinalizesResults(t *testing.T) {
	c, mr := setupQueueCache(t)
	finalizer := &fakeFinalizer{}
	consumer := NewConsumer(c, finalizer, zap.NewNop(), 50*time.Millisecond)

	raw, err := json.Marshal(Result{
		ReservationID: "res-1",
		GenerationID:  "gen-1",
		CostNano:      1_150_000,
	})
	require.NoError(t, err)
	mr.Lpush(ResultQueueKey, string(raw))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.Start(ctx)

	require.Eventually(t, func() bool {
		cost, ok := finalizer.get("res-1")
		return ok && cost == 1_150_000
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConsumerDiscardsGarbage(t *testing.T) {
	c, mr := setupQueueCache(t)
	finalizer := &fakeFinalizer{}
	consumer := NewConsumer(c, finalizer, zap.NewNop(), 50*time.Millisecond)

	mr.Lpush(ResultQueueKey, "not json")
	raw, _ := json.Marshal(Result{ReservationID: "res-2", CostNano: 42})
	mr.Lpush(ResultQueueKey, string(raw))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.Start(ctx)

	// The bad message is dropped, the good one behind it still lands.
	require.Eventually(t, func() bool {
		_, ok := finalizer.get("res-2")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}
