// Package store provides the persistence backends for workspace balances
// and credit reservations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/crosslogic/credit-plane/internal/credits"
)

// MemoryBalanceStore is an in-memory BalanceStore with real version
// semantics. Used in tests and local development.
type MemoryBalanceStore struct {
	mu       sync.Mutex
	balances map[string]*credits.WorkspaceBalance
}

// NewMemoryBalanceStore creates an empty in-memory balance store.
func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{balances: make(map[string]*credits.WorkspaceBalance)}
}

// Seed creates or replaces a workspace balance.
func (s *MemoryBalanceStore) Seed(workspaceID string, balance int64, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[workspaceID] = &credits.WorkspaceBalance{
		WorkspaceID:   workspaceID,
		CreditBalance: balance,
		Currency:      currency,
		Version:       1,
		UpdatedAt:     time.Now(),
	}
}

func (s *MemoryBalanceStore) Get(ctx context.Context, workspaceID string) (*credits.WorkspaceBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[workspaceID]
	if !ok {
		return nil, credits.ErrWorkspaceNotFound
	}
	copied := *bal
	return &copied, nil
}

func (s *MemoryBalanceStore) ConditionalWrite(ctx context.Context, workspaceID string, expectedVersion, newBalance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[workspaceID]
	if !ok {
		return credits.ErrWorkspaceNotFound
	}
	if bal.Version != expectedVersion {
		return credits.ErrVersionConflict
	}
	bal.CreditBalance = newBalance
	bal.Version++
	bal.UpdatedAt = time.Now()
	return nil
}

// MemoryReservationStore is an in-memory ReservationStore.
type MemoryReservationStore struct {
	mu           sync.Mutex
	reservations map[string]*credits.CreditReservation
}

// NewMemoryReservationStore creates an empty in-memory reservation store.
func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{reservations: make(map[string]*credits.CreditReservation)}
}

func (s *MemoryReservationStore) Get(ctx context.Context, reservationID string) (*credits.CreditReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[reservationID]
	if !ok {
		return nil, credits.ErrReservationNotFound
	}
	copied := *res
	return &copied, nil
}

func (s *MemoryReservationStore) Create(ctx context.Context, res *credits.CreditReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *res
	s.reservations[res.ID] = &copied
	return nil
}

func (s *MemoryReservationStore) Update(ctx context.Context, reservationID string, upd credits.ReservationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[reservationID]
	if !ok {
		return credits.ErrReservationNotFound
	}
	applyUpdate(res, upd)
	return nil
}

func (s *MemoryReservationStore) Delete(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reservations, reservationID)
	return nil
}

// applyUpdate copies the non-nil fields of upd onto res.
func applyUpdate(res *credits.CreditReservation, upd credits.ReservationUpdate) {
	if upd.TokenUsageBasedCost != nil {
		v := *upd.TokenUsageBasedCost
		res.TokenUsageBasedCost = &v
	}
	if upd.GenerationID != nil {
		res.GenerationID = *upd.GenerationID
	}
	if upd.Provider != nil {
		res.Provider = *upd.Provider
	}
	if upd.ModelName != nil {
		res.ModelName = *upd.ModelName
	}
	if upd.VerifiedCost != nil {
		v := *upd.VerifiedCost
		res.VerifiedCost = &v
	}
}
