package credits

import "errors"

var (
	// ErrInsufficientCredits is returned by ReserveCredits when the
	// workspace balance cannot cover the estimated cost. No mutation has
	// happened when this is returned.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrWorkspaceNotFound is returned when no balance record exists for
	// the workspace. The record must be provisioned before any credit
	// operation runs; this is caller misuse, not a transient condition.
	ErrWorkspaceNotFound = errors.New("workspace balance not found")

	// ErrReservationNotFound is returned by reservation stores when the
	// row is absent. The engine never propagates it: an absent reservation
	// means the unit of work is already settled.
	ErrReservationNotFound = errors.New("credit reservation not found")

	// ErrVersionConflict is returned by BalanceStore.ConditionalWrite when
	// another writer committed between the read and the write. The
	// optimistic loop retries on it.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrUpdateConflict is returned after the optimistic loop has
	// exhausted its retry budget. Safe to retry the whole operation.
	ErrUpdateConflict = errors.New("balance update failed after retries")
)
