// Package models holds the wire types of the credit plane HTTP API.
package models

import "github.com/crosslogic/credit-plane/internal/credits"

// ReserveRequest opens a reservation against a workspace balance.
type ReserveRequest struct {
	EstimatedCostNano int64 `json:"estimated_cost_nano"`
	Byok              bool  `json:"byok,omitempty"`
}

// ReserveResponse returns the opened reservation.
type ReserveResponse struct {
	ReservationID      string `json:"reservation_id"`
	ReservedAmountNano int64  `json:"reserved_amount_nano"`
	BalanceNano        int64  `json:"balance_nano"`
}

// AdjustRequest reconciles a reservation against measured usage.
type AdjustRequest struct {
	WorkspaceID    string             `json:"workspace_id"`
	Provider       string             `json:"provider"`
	Model          string             `json:"model"`
	Usage          credits.TokenUsage `json:"usage"`
	Byok           bool               `json:"byok,omitempty"`
	GenerationID   string             `json:"generation_id,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	AgentID        string             `json:"agent_id,omitempty"`
}

// FinalizeRequest settles a reservation against the authoritative cost.
type FinalizeRequest struct {
	VerifiedCostNano int64 `json:"verified_cost_nano"`
}

// AmountRequest carries a direct debit, credit or top-up amount.
type AmountRequest struct {
	AmountNano int64 `json:"amount_nano"`
	Byok       bool  `json:"byok,omitempty"`
}

// BalanceResponse returns the balance after an operation.
type BalanceResponse struct {
	WorkspaceID string `json:"workspace_id"`
	BalanceNano int64  `json:"balance_nano"`
	Currency    string `json:"currency,omitempty"`
}
