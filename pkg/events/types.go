package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing on the bus.
type EventType string

const (
	// Credit pipeline events
	EventCreditReserved  EventType = "credit.reserved"
	EventCreditAdjusted  EventType = "credit.adjusted"
	EventCreditFinalized EventType = "credit.finalized"
	EventCreditRefunded  EventType = "credit.refunded"

	// Balance events
	EventBalanceTopUp    EventType = "balance.topup"
	EventBalanceNegative EventType = "balance.negative"

	// Verification events
	EventVerificationRequested EventType = "verification.requested"

	// Payment events
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
)

// Event is a single occurrence published on the bus.
type Event struct {
	// ID uniquely identifies this event, for idempotent consumers.
	ID string

	Type      EventType
	Timestamp time.Time

	// WorkspaceID is the workspace the event concerns. Empty for system
	// events.
	WorkspaceID string

	// Payload carries event-specific data.
	Payload map[string]interface{}
}

// NewEvent builds an event with a fresh ID and a UTC timestamp.
func NewEvent(eventType EventType, workspaceID string, payload map[string]interface{}) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkspaceID: workspaceID,
		Payload:     payload,
	}
}
