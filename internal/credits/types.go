// Package credits implements prepaid credit accounting for metered LLM usage.
//
// Every unit of work moves through a three-stage compensating pipeline:
// reserve deducts a pre-flight estimate, adjust reconciles against the usage
// counters returned by the provider, and finalize reconciles against the
// authoritative cost confirmed asynchronously by the upstream billing
// partner. Each stage applies only the difference against the previous one,
// so the three mutations telescope: after finalize the workspace has paid
// exactly the authoritative cost, no matter how wrong the estimates were.
//
// All monetary amounts are int64 nano-USD. No floating point appears in the
// arithmetic path.
package credits

import "time"

// ReservationTTL bounds how long a reservation may stay open before an
// external sweeper is allowed to treat it as orphaned.
const ReservationTTL = 15 * time.Minute

// WorkspaceBalance is the single shared mutable record per workspace. It is
// never locked; all writers go through the optimistic conditional-write loop.
type WorkspaceBalance struct {
	WorkspaceID string

	// CreditBalance may legitimately go negative: finalize can reveal a
	// cost higher than what was reserved.
	CreditBalance int64

	// Currency is informational only; arithmetic stays in nano-units.
	Currency string

	// Version is the concurrency marker checked by ConditionalWrite.
	// Opaque to callers.
	Version int64

	UpdatedAt time.Time
}

// CreditReservation records the outstanding liability for one in-flight unit
// of work. Its existence is the only signal that billing is still open: a
// missing row always means "already settled" and is never an error. That
// absence check is what makes duplicate and out-of-order delivery of the
// verification result harmless.
type CreditReservation struct {
	ID          string
	WorkspaceID string

	// ReservedAmount is the amount currently deducted from the workspace
	// on this reservation's behalf. Updated in place as the pipeline
	// advances, not an append-only log.
	ReservedAmount int64

	// EstimatedCost is the original pre-flight estimate, kept for audit.
	EstimatedCost int64

	// TokenUsageBasedCost is set at the adjust stage when a verification
	// round-trip is still expected for this reservation.
	TokenUsageBasedCost *int64

	// GenerationID, Provider and ModelName correlate the reservation with
	// the asynchronous cost-verification request.
	GenerationID string
	Provider     string
	ModelName    string

	// VerifiedCost is recorded at the finalize stage, just before the row
	// is deleted, so the audit trail keeps the authoritative number.
	VerifiedCost *int64

	// Expires and ExpiresHour support range scans by the orphan sweeper.
	// ExpiresHour is Expires truncated to the hour.
	Expires     time.Time
	ExpiresHour time.Time

	CreatedAt time.Time
}

// TokenUsage carries the four token counters the pricing calculator bills on.
type TokenUsage struct {
	PromptTokens       int64 `json:"prompt_tokens"`
	CompletionTokens   int64 `json:"completion_tokens"`
	ReasoningTokens    int64 `json:"reasoning_tokens"`
	CachedPromptTokens int64 `json:"cached_prompt_tokens"`
}

// ReservationUpdate is a partial update applied to an existing reservation.
// Nil fields are left untouched.
type ReservationUpdate struct {
	TokenUsageBasedCost *int64
	GenerationID        *string
	Provider            *string
	ModelName           *string
	VerifiedCost        *int64
}

// VerificationRequest asks the billing partner to confirm the authoritative
// cost of one generation. Delivery is best effort.
type VerificationRequest struct {
	GenerationID   string `json:"generation_id"`
	ReservationID  string `json:"reservation_id"`
	WorkspaceID    string `json:"workspace_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
}
