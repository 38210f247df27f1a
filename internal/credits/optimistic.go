package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/crosslogic/credit-plane/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultMaxUpdateRetries bounds the optimistic write loop. Exhausting it
// surfaces as ErrUpdateConflict and indicates unusually high contention on
// one workspace.
const DefaultMaxUpdateRetries = 5

// balanceMutator computes the next balance from the current record. It must
// be a pure function of its input: on a version conflict the loop re-reads
// and invokes it again.
type balanceMutator func(current *WorkspaceBalance) (int64, error)

// atomicUpdate runs the read-mutate-conditional-write loop against one
// workspace balance. It returns the balance that was committed.
//
// Errors from Get (including ErrWorkspaceNotFound) and from the mutator
// propagate unchanged; only ErrVersionConflict is retried.
func (e *Engine) atomicUpdate(ctx context.Context, workspaceID string, mutate balanceMutator) (int64, error) {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		current, err := e.balances.Get(ctx, workspaceID)
		if err != nil {
			return 0, err
		}

		next, err := mutate(current)
		if err != nil {
			return 0, err
		}

		err = e.balances.ConditionalWrite(ctx, workspaceID, current.Version, next)
		if err == nil {
			metrics.ObserveBalance(workspaceID, next)
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return 0, fmt.Errorf("conditional write for workspace %s: %w", workspaceID, err)
		}

		metrics.BalanceConflictRetries.Inc()
		e.logger.Debug("balance write conflict, retrying",
			zap.String("workspace_id", workspaceID),
			zap.Int("attempt", attempt),
		)
	}

	return 0, fmt.Errorf("workspace %s contended for %d attempts (%v): %w",
		workspaceID, e.maxRetries, ErrVersionConflict, ErrUpdateConflict)
}
