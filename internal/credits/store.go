package credits

import "context"

// BalanceStore persists workspace balances and supports the conditional
// write the optimistic loop depends on.
type BalanceStore interface {
	// Get returns the current balance record, or ErrWorkspaceNotFound.
	Get(ctx context.Context, workspaceID string) (*WorkspaceBalance, error)

	// ConditionalWrite sets the balance to newBalance only if the stored
	// version still equals expectedVersion, bumping the version on
	// success. Returns ErrVersionConflict when another writer got there
	// first.
	ConditionalWrite(ctx context.Context, workspaceID string, expectedVersion, newBalance int64) error
}

// ReservationStore persists in-flight reservations. Implementations should
// honor the record's Expires timestamp where the backend supports TTLs; the
// sweeper that reaps expired rows lives outside this package.
type ReservationStore interface {
	// Get returns the reservation, or ErrReservationNotFound.
	Get(ctx context.Context, reservationID string) (*CreditReservation, error)

	Create(ctx context.Context, res *CreditReservation) error

	// Update applies the non-nil fields of upd to an existing row.
	Update(ctx context.Context, reservationID string, upd ReservationUpdate) error

	Delete(ctx context.Context, reservationID string) error
}

// PricingCalculator computes the nano-USD cost of a generation from its
// token counters. Implementations may return a wrong or even negative value;
// the engine clamps, it never trusts.
type PricingCalculator interface {
	Cost(ctx context.Context, provider, model string, usage TokenUsage) (int64, error)
}

// VerificationQueue carries cost-verification requests to the billing
// partner. At-least-once, fire-and-forget: callers must not depend on
// delivery.
type VerificationQueue interface {
	Publish(ctx context.Context, req VerificationRequest) error
}
