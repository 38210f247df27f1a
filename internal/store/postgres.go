package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/pkg/database"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PostgresBalanceStore persists workspace balances in the
// workspace_balances table. The conditional write is a single UPDATE
// guarded by the version column, so two concurrent writers can never both
// succeed against the same read.
type PostgresBalanceStore struct {
	db     *database.Database
	logger *zap.Logger
}

// NewPostgresBalanceStore creates a balance store backed by PostgreSQL.
func NewPostgresBalanceStore(db *database.Database, logger *zap.Logger) *PostgresBalanceStore {
	return &PostgresBalanceStore{db: db, logger: logger}
}

func (s *PostgresBalanceStore) Get(ctx context.Context, workspaceID string) (*credits.WorkspaceBalance, error) {
	bal := &credits.WorkspaceBalance{WorkspaceID: workspaceID}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT credit_balance, currency, version, updated_at
		FROM workspace_balances
		WHERE workspace_id = $1
	`, workspaceID).Scan(&bal.CreditBalance, &bal.Currency, &bal.Version, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credits.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("failed to read workspace balance: %w", err)
	}
	return bal, nil
}

func (s *PostgresBalanceStore) ConditionalWrite(ctx context.Context, workspaceID string, expectedVersion, newBalance int64) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE workspace_balances
		SET credit_balance = $1, version = version + 1, updated_at = NOW()
		WHERE workspace_id = $2 AND version = $3
	`, newBalance, workspaceID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to write workspace balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row vanished or another writer bumped the version.
		// Distinguish so the caller retries only real conflicts.
		var exists bool
		if checkErr := s.db.Pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM workspace_balances WHERE workspace_id = $1)
		`, workspaceID).Scan(&exists); checkErr == nil && !exists {
			return credits.ErrWorkspaceNotFound
		}
		return credits.ErrVersionConflict
	}
	return nil
}

// PostgresReservationStore persists reservations in the
// credit_reservations table. The expires_hour column exists for the orphan
// sweeper's range scans.
type PostgresReservationStore struct {
	db     *database.Database
	logger *zap.Logger
}

// NewPostgresReservationStore creates a reservation store backed by
// PostgreSQL.
func NewPostgresReservationStore(db *database.Database, logger *zap.Logger) *PostgresReservationStore {
	return &PostgresReservationStore{db: db, logger: logger}
}

func (s *PostgresReservationStore) Get(ctx context.Context, reservationID string) (*credits.CreditReservation, error) {
	res := &credits.CreditReservation{ID: reservationID}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT workspace_id, reserved_amount, estimated_cost,
			token_usage_based_cost, generation_id, provider, model_name,
			verified_cost, expires, expires_hour, created_at
		FROM credit_reservations
		WHERE id = $1
	`, reservationID).Scan(
		&res.WorkspaceID, &res.ReservedAmount, &res.EstimatedCost,
		&res.TokenUsageBasedCost, &res.GenerationID, &res.Provider, &res.ModelName,
		&res.VerifiedCost, &res.Expires, &res.ExpiresHour, &res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credits.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to read reservation: %w", err)
	}
	return res, nil
}

func (s *PostgresReservationStore) Create(ctx context.Context, res *credits.CreditReservation) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO credit_reservations (
			id, workspace_id, reserved_amount, estimated_cost,
			generation_id, provider, model_name,
			expires, expires_hour, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		res.ID, res.WorkspaceID, res.ReservedAmount, res.EstimatedCost,
		res.GenerationID, res.Provider, res.ModelName,
		res.Expires, res.ExpiresHour, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (s *PostgresReservationStore) Update(ctx context.Context, reservationID string, upd credits.ReservationUpdate) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE credit_reservations
		SET token_usage_based_cost = COALESCE($1, token_usage_based_cost),
			generation_id = COALESCE($2, generation_id),
			provider = COALESCE($3, provider),
			model_name = COALESCE($4, model_name),
			verified_cost = COALESCE($5, verified_cost)
		WHERE id = $6
	`,
		upd.TokenUsageBasedCost, upd.GenerationID, upd.Provider, upd.ModelName,
		upd.VerifiedCost, reservationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credits.ErrReservationNotFound
	}
	return nil
}

func (s *PostgresReservationStore) Delete(ctx context.Context, reservationID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		DELETE FROM credit_reservations WHERE id = $1
	`, reservationID)
	if err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}
