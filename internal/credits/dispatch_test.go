package credits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerificationPublishFailureNeverBlocksBilling(t *testing.T) {
	balances := store.NewMemoryBalanceStore()
	reservations := store.NewMemoryReservationStore()
	queue := &recordingQueue{err: errors.New("queue unreachable")}
	dispatcher := credits.NewDispatcher(queue, nil, zap.NewNop())
	engine := credits.NewEngine(balances, reservations,
		&stubCalculator{cost: 500_000}, dispatcher, nil, zap.NewNop())
	balances.Seed("ws1", 2_000_000, "USD")
	ctx := context.Background()

	res, err := engine.ReserveCredits(ctx, "ws1", 400_000, false)
	require.NoError(t, err)

	// The publish fails, the adjust still succeeds and the reservation
	// stays open for a finalize that may never come.
	balance, err := engine.AdjustReservation(ctx, credits.AdjustParams{
		ReservationID: res.ReservationID,
		WorkspaceID:   "ws1",
		Provider:      "openrouter",
		Model:         "gpt-4o",
		GenerationID:  "gen-9",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), balance)

	row, err := reservations.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	require.Equal(t, "gen-9", row.GenerationID)
}

func TestDispatcherForwardsCorrelationData(t *testing.T) {
	queue := &recordingQueue{}
	dispatcher := credits.NewDispatcher(queue, nil, zap.NewNop())

	dispatcher.RequestVerification(context.Background(), credits.VerificationRequest{
		GenerationID:   "gen-42",
		ReservationID:  "res-42",
		WorkspaceID:    "ws1",
		ConversationID: "conv-1",
		AgentID:        "agent-7",
	})

	require.Len(t, queue.requests, 1)
	require.Equal(t, "conv-1", queue.requests[0].ConversationID)
	require.Equal(t, "agent-7", queue.requests[0].AgentID)
}
