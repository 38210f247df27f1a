package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crosslogic/credit-plane/pkg/events"
	"github.com/crosslogic/credit-plane/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ByokReservationID is the sentinel returned by ReserveCredits for
// bring-your-own-key calls. The platform incurs no cost for those, so every
// stage recognizes the sentinel and leaves the balance alone.
const ByokReservationID = "byok"

// Engine moves money between workspace balances and reservation records.
// All cross-call coordination happens through the optimistic conditional
// write at the balance store; the engine holds no locks of its own.
type Engine struct {
	balances     BalanceStore
	reservations ReservationStore
	pricing      PricingCalculator
	dispatcher   *Dispatcher
	bus          *events.Bus
	logger       *zap.Logger
	maxRetries   int
	now          func() time.Time
}

// NewEngine creates a credit engine. dispatcher and bus may be nil; the
// engine then skips verification dispatch and event publishing.
func NewEngine(balances BalanceStore, reservations ReservationStore, pricing PricingCalculator, dispatcher *Dispatcher, bus *events.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		balances:     balances,
		reservations: reservations,
		pricing:      pricing,
		dispatcher:   dispatcher,
		bus:          bus,
		logger:       logger,
		maxRetries:   DefaultMaxUpdateRetries,
		now:          time.Now,
	}
}

// SetMaxUpdateRetries overrides the optimistic retry budget.
func (e *Engine) SetMaxUpdateRetries(n int) {
	if n > 0 {
		e.maxRetries = n
	}
}

// Reservation is what ReserveCredits hands back to the caller.
type Reservation struct {
	ReservationID  string `json:"reservation_id"`
	ReservedAmount int64  `json:"reserved_amount"`
	Balance        int64  `json:"balance"`
}

// ReserveCredits deducts the pre-flight estimate from the workspace balance
// and opens a reservation for it. It fails with ErrInsufficientCredits, and
// mutates nothing, when the balance cannot cover the estimate.
//
// A reservation that turns out unnecessary must be explicitly refunded;
// reserve never expires balance back on its own.
func (e *Engine) ReserveCredits(ctx context.Context, workspaceID string, estimatedCost int64, byok bool) (*Reservation, error) {
	if byok {
		metrics.ObserveOperation("reserve", "byok")
		return &Reservation{ReservationID: ByokReservationID}, nil
	}

	if estimatedCost < 0 {
		e.logger.Warn("negative cost estimate, clamping to zero",
			zap.String("workspace_id", workspaceID),
			zap.Int64("estimated_cost", estimatedCost),
		)
		estimatedCost = 0
	}

	var balance int64
	if estimatedCost == 0 {
		// Nothing to deduct; skip the conditional write entirely so a
		// malformed estimate can never look like income.
		current, err := e.balances.Get(ctx, workspaceID)
		if err != nil {
			metrics.ObserveOperation("reserve", "error")
			return nil, err
		}
		balance = current.CreditBalance
	} else {
		var err error
		balance, err = e.atomicUpdate(ctx, workspaceID, func(current *WorkspaceBalance) (int64, error) {
			if current.CreditBalance < estimatedCost {
				return 0, fmt.Errorf("workspace %s has %d nano, needs %d: %w",
					workspaceID, current.CreditBalance, estimatedCost, ErrInsufficientCredits)
			}
			return current.CreditBalance - estimatedCost, nil
		})
		if err != nil {
			if errors.Is(err, ErrInsufficientCredits) {
				metrics.InsufficientCreditRejections.Inc()
				metrics.ObserveOperation("reserve", "insufficient")
			} else {
				metrics.ObserveOperation("reserve", "error")
			}
			return nil, err
		}
	}

	expires := e.now().Add(ReservationTTL)
	res := &CreditReservation{
		ID:             uuid.New().String(),
		WorkspaceID:    workspaceID,
		ReservedAmount: estimatedCost,
		EstimatedCost:  estimatedCost,
		Expires:        expires,
		ExpiresHour:    expires.Truncate(time.Hour),
		CreatedAt:      e.now(),
	}
	if err := e.reservations.Create(ctx, res); err != nil {
		// Hand the deduction back; the unit of work never starts.
		if estimatedCost > 0 {
			if _, rbErr := e.atomicUpdate(ctx, workspaceID, func(current *WorkspaceBalance) (int64, error) {
				return current.CreditBalance + estimatedCost, nil
			}); rbErr != nil {
				e.logger.Error("failed to roll back reserve after store error",
					zap.String("workspace_id", workspaceID),
					zap.Int64("estimated_cost", estimatedCost),
					zap.Error(rbErr),
				)
			}
		}
		metrics.ObserveOperation("reserve", "error")
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	metrics.ObserveOperation("reserve", "ok")
	e.publish(ctx, events.EventCreditReserved, workspaceID, map[string]interface{}{
		"reservation_id":  res.ID,
		"reserved_amount": estimatedCost,
		"balance":         balance,
	})

	return &Reservation{
		ReservationID:  res.ID,
		ReservedAmount: estimatedCost,
		Balance:        balance,
	}, nil
}

// AdjustParams carries everything the adjust stage needs.
type AdjustParams struct {
	ReservationID string
	WorkspaceID   string
	Provider      string
	Model         string
	Usage         TokenUsage
	Byok          bool

	// GenerationID correlates the upstream generation for asynchronous
	// cost verification. When set, the reservation stays open for the
	// finalize stage; when empty, adjust is the terminal stage.
	GenerationID   string
	ConversationID string
	AgentID        string
}

// AdjustReservation reconciles the reservation against the usage counters
// the provider returned. Only the difference between the measured cost and
// the amount already reserved moves on the balance.
func (e *Engine) AdjustReservation(ctx context.Context, p AdjustParams) (int64, error) {
	if p.Byok || p.ReservationID == ByokReservationID {
		metrics.ObserveOperation("adjust", "byok")
		return e.currentBalance(ctx, p.WorkspaceID)
	}

	res, err := e.reservations.Get(ctx, p.ReservationID)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// A concurrent or duplicate call settled it first.
			e.logger.Info("adjust on settled reservation, skipping",
				zap.String("reservation_id", p.ReservationID),
				zap.String("workspace_id", p.WorkspaceID),
			)
			metrics.ObserveOperation("adjust", "already_settled")
			return e.currentBalance(ctx, p.WorkspaceID)
		}
		metrics.ObserveOperation("adjust", "error")
		return 0, err
	}

	tokenUsageCost := e.tokenUsageCost(ctx, p.Provider, p.Model, p.Usage)

	difference := tokenUsageCost - res.ReservedAmount
	balance, err := e.atomicUpdate(ctx, res.WorkspaceID, func(current *WorkspaceBalance) (int64, error) {
		return current.CreditBalance - difference, nil
	})
	if err != nil {
		metrics.ObserveOperation("adjust", "error")
		return 0, err
	}

	if p.GenerationID != "" {
		// A verification round-trip will follow; keep the row open with
		// the measured cost as the new baseline.
		upd := ReservationUpdate{
			TokenUsageBasedCost: &tokenUsageCost,
			GenerationID:        &p.GenerationID,
			Provider:            &p.Provider,
			ModelName:           &p.Model,
		}
		if err := e.reservations.Update(ctx, res.ID, upd); err != nil {
			metrics.ObserveOperation("adjust", "error")
			return 0, fmt.Errorf("failed to update reservation %s: %w", res.ID, err)
		}

		if e.dispatcher != nil {
			e.dispatcher.RequestVerification(ctx, VerificationRequest{
				GenerationID:   p.GenerationID,
				ReservationID:  res.ID,
				WorkspaceID:    res.WorkspaceID,
				ConversationID: p.ConversationID,
				AgentID:        p.AgentID,
			})
		}
	} else {
		if err := e.reservations.Delete(ctx, res.ID); err != nil {
			e.logger.Error("failed to delete reservation after adjust",
				zap.String("reservation_id", res.ID),
				zap.Error(err),
			)
		}
	}

	metrics.ObserveOperation("adjust", "ok")
	e.publish(ctx, events.EventCreditAdjusted, res.WorkspaceID, map[string]interface{}{
		"reservation_id":         res.ID,
		"token_usage_based_cost": tokenUsageCost,
		"difference":             difference,
		"balance":                balance,
	})
	e.checkBalanceFloor(ctx, res.WorkspaceID, balance)

	return balance, nil
}

// FinalizeReservation reconciles the reservation against the authoritative
// cost confirmed by the billing partner and closes it. Duplicate delivery is
// expected: finalizing an already-settled reservation is a harmless no-op.
func (e *Engine) FinalizeReservation(ctx context.Context, reservationID string, verifiedCost int64) (int64, error) {
	if reservationID == ByokReservationID {
		metrics.ObserveOperation("finalize", "byok")
		return 0, nil
	}

	res, err := e.reservations.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			e.logger.Info("finalize on settled reservation, skipping",
				zap.String("reservation_id", reservationID),
			)
			metrics.ObserveOperation("finalize", "already_settled")
			return 0, nil
		}
		metrics.ObserveOperation("finalize", "error")
		return 0, err
	}

	// If adjust never recorded a measured cost, reconcile against the
	// reserved amount instead.
	baseline := res.ReservedAmount
	if res.TokenUsageBasedCost != nil {
		baseline = *res.TokenUsageBasedCost
	}

	difference := verifiedCost - baseline
	balance, err := e.atomicUpdate(ctx, res.WorkspaceID, func(current *WorkspaceBalance) (int64, error) {
		return current.CreditBalance - difference, nil
	})
	if err != nil {
		metrics.ObserveOperation("finalize", "error")
		return 0, err
	}

	// Keep the authoritative number on the row for the audit trail, then
	// close it. Deletion is the terminal state; no further stage may run.
	if err := e.reservations.Update(ctx, res.ID, ReservationUpdate{VerifiedCost: &verifiedCost}); err != nil {
		e.logger.Warn("failed to record verified cost before deletion",
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}
	if err := e.reservations.Delete(ctx, res.ID); err != nil {
		e.logger.Error("failed to delete reservation after finalize",
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}

	metrics.ObserveOperation("finalize", "ok")
	e.publish(ctx, events.EventCreditFinalized, res.WorkspaceID, map[string]interface{}{
		"reservation_id": res.ID,
		"verified_cost":  verifiedCost,
		"difference":     difference,
		"balance":        balance,
	})
	e.checkBalanceFloor(ctx, res.WorkspaceID, balance)

	return balance, nil
}

// RefundReservation hands the full reserved amount back and closes the
// reservation. Used when the unit of work failed before producing usage
// counters.
func (e *Engine) RefundReservation(ctx context.Context, reservationID string) error {
	if reservationID == ByokReservationID {
		metrics.ObserveOperation("refund", "byok")
		return nil
	}

	res, err := e.reservations.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			e.logger.Info("refund on settled reservation, skipping",
				zap.String("reservation_id", reservationID),
			)
			metrics.ObserveOperation("refund", "already_settled")
			return nil
		}
		metrics.ObserveOperation("refund", "error")
		return err
	}

	balance, err := e.atomicUpdate(ctx, res.WorkspaceID, func(current *WorkspaceBalance) (int64, error) {
		return current.CreditBalance + res.ReservedAmount, nil
	})
	if err != nil {
		metrics.ObserveOperation("refund", "error")
		return err
	}

	if err := e.reservations.Delete(ctx, res.ID); err != nil {
		e.logger.Error("failed to delete reservation after refund",
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}

	metrics.ObserveOperation("refund", "ok")
	e.publish(ctx, events.EventCreditRefunded, res.WorkspaceID, map[string]interface{}{
		"reservation_id":  res.ID,
		"refunded_amount": res.ReservedAmount,
		"balance":         balance,
	})

	return nil
}

// DebitCredits deducts amount directly, bypassing the reservation pipeline.
// Unlike reserve it performs no solvency check: flat deductions may push a
// balance negative.
func (e *Engine) DebitCredits(ctx context.Context, workspaceID string, amount int64, byok bool) (int64, error) {
	if byok {
		metrics.ObserveOperation("debit", "byok")
		return e.currentBalance(ctx, workspaceID)
	}

	if amount < 0 {
		e.logger.Warn("negative debit amount, clamping to zero",
			zap.String("workspace_id", workspaceID),
			zap.Int64("amount", amount),
		)
		amount = 0
	}
	if amount == 0 {
		return e.currentBalance(ctx, workspaceID)
	}

	balance, err := e.atomicUpdate(ctx, workspaceID, func(current *WorkspaceBalance) (int64, error) {
		return current.CreditBalance - amount, nil
	})
	if err != nil {
		metrics.ObserveOperation("debit", "error")
		return 0, err
	}

	metrics.ObserveOperation("debit", "ok")
	e.checkBalanceFloor(ctx, workspaceID, balance)
	return balance, nil
}

// CreditCredits adds amount to the balance, for top-ups and refunds issued
// outside the pipeline.
func (e *Engine) CreditCredits(ctx context.Context, workspaceID string, amount int64) (int64, error) {
	if amount < 0 {
		e.logger.Warn("negative credit amount, clamping to zero",
			zap.String("workspace_id", workspaceID),
			zap.Int64("amount", amount),
		)
		amount = 0
	}
	if amount == 0 {
		return e.currentBalance(ctx, workspaceID)
	}

	balance, err := e.atomicUpdate(ctx, workspaceID, func(current *WorkspaceBalance) (int64, error) {
		return current.CreditBalance + amount, nil
	})
	if err != nil {
		metrics.ObserveOperation("credit", "error")
		return 0, err
	}

	metrics.ObserveOperation("credit", "ok")
	return balance, nil
}

// GetBalance returns the current balance without mutating anything.
func (e *Engine) GetBalance(ctx context.Context, workspaceID string) (*WorkspaceBalance, error) {
	return e.balances.Get(ctx, workspaceID)
}

func (e *Engine) currentBalance(ctx context.Context, workspaceID string) (int64, error) {
	current, err := e.balances.Get(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return current.CreditBalance, nil
}

func (e *Engine) publish(ctx context.Context, eventType events.EventType, workspaceID string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, events.NewEvent(eventType, workspaceID, payload)); err != nil {
		e.logger.Warn("failed to publish credit event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

func (e *Engine) checkBalanceFloor(ctx context.Context, workspaceID string, balance int64) {
	if balance >= 0 {
		return
	}
	e.publish(ctx, events.EventBalanceNegative, workspaceID, map[string]interface{}{
		"balance": balance,
	})
}
