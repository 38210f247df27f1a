package credits_test

import (
	"context"
	"sync"
	"testing"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// conflictingBalanceStore wraps a real store and forces the first n
// conditional writes to report a version conflict.
type conflictingBalanceStore struct {
	*store.MemoryBalanceStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingBalanceStore) ConditionalWrite(ctx context.Context, workspaceID string, expectedVersion, newBalance int64) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return credits.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.MemoryBalanceStore.ConditionalWrite(ctx, workspaceID, expectedVersion, newBalance)
}

func newConflictingEngine(conflicts, maxRetries int) (*credits.Engine, *conflictingBalanceStore) {
	balances := &conflictingBalanceStore{
		MemoryBalanceStore: store.NewMemoryBalanceStore(),
		conflicts:          conflicts,
	}
	engine := credits.NewEngine(balances, store.NewMemoryReservationStore(),
		&stubCalculator{}, nil, nil, zap.NewNop())
	engine.SetMaxUpdateRetries(maxRetries)
	return engine, balances
}

func TestAtomicUpdateRetriesThroughConflicts(t *testing.T) {
	engine, balances := newConflictingEngine(3, 5)
	balances.Seed("ws1", 1_000_000, "USD")

	balance, err := engine.DebitCredits(context.Background(), "ws1", 400_000, false)
	require.NoError(t, err)
	require.Equal(t, int64(600_000), balance)
}

func TestAtomicUpdateExhaustsRetryBudget(t *testing.T) {
	engine, balances := newConflictingEngine(10, 3)
	balances.Seed("ws1", 1_000_000, "USD")

	_, err := engine.DebitCredits(context.Background(), "ws1", 400_000, false)
	require.ErrorIs(t, err, credits.ErrUpdateConflict)

	// The failed operation left no partial mutation behind.
	bal, getErr := balances.Get(context.Background(), "ws1")
	require.NoError(t, getErr)
	require.Equal(t, int64(1_000_000), bal.CreditBalance)
}

func TestAtomicUpdatePropagatesWorkspaceNotFound(t *testing.T) {
	engine, _ := newConflictingEngine(0, 3)

	_, err := engine.DebitCredits(context.Background(), "missing", 100, false)
	require.ErrorIs(t, err, credits.ErrWorkspaceNotFound)
}

func TestInsufficientCreditsIsNotRetried(t *testing.T) {
	// The mutator's own error must fail the operation immediately, not
	// burn the retry budget.
	engine, balances := newConflictingEngine(0, 1)
	balances.Seed("ws1", 100, "USD")

	_, err := engine.ReserveCredits(context.Background(), "ws1", 200, false)
	require.ErrorIs(t, err, credits.ErrInsufficientCredits)
}
