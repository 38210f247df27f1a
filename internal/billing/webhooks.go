// Package billing connects Stripe payments to workspace credit balances.
package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/crosslogic/credit-plane/pkg/cache"
	"github.com/crosslogic/credit-plane/pkg/events"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const (
	webhookProcessedTTL = 24 * time.Hour

	// nanoPerCent converts Stripe amounts (smallest currency unit, cents
	// for USD) into the engine's nano-USD fixed point.
	nanoPerCent = 10_000_000
)

// Crediter is the slice of the credit engine the webhook handler needs.
type Crediter interface {
	CreditCredits(ctx context.Context, workspaceID string, amount int64) (int64, error)
}

// WebhookHandler turns verified Stripe payment events into balance top-ups.
//
// Events are deduplicated by Stripe event ID: Redis holds the distributed
// claim, and an in-process map backs it up when the cache is unavailable.
// Stripe retries webhooks aggressively, so processing must be idempotent.
type WebhookHandler struct {
	webhookSecret string
	engine        Crediter
	cache         *cache.Cache
	bus           *events.Bus
	logger        *zap.Logger

	processedEvents map[string]time.Time
	mu              sync.Mutex
}

// NewWebhookHandler creates a Stripe webhook handler. cache and bus may be
// nil; deduplication then falls back to the in-process map only.
func NewWebhookHandler(webhookSecret string, engine Crediter, c *cache.Cache, bus *events.Bus, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookSecret:   webhookSecret,
		engine:          engine,
		cache:           c,
		bus:             bus,
		logger:          logger,
		processedEvents: make(map[string]time.Time),
	}
}

// HandleWebhook verifies and processes one Stripe webhook delivery.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("failed to read webhook payload", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.claimEvent(r.Context(), event.ID) {
		h.logger.Debug("duplicate webhook delivery, skipping",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		h.handlePaymentSucceeded(r.Context(), event)
	case "payment_intent.payment_failed":
		h.handlePaymentFailed(r.Context(), event)
	default:
		h.logger.Debug("ignoring webhook event type",
			zap.String("event_type", string(event.Type)),
		)
	}

	// Stripe retries anything that is not a 2xx; processing failures are
	// logged above and must not trigger a redelivery storm.
	w.WriteHeader(http.StatusOK)
}

// claimEvent records the event ID and reports whether this delivery is the
// first one.
func (h *WebhookHandler) claimEvent(ctx context.Context, eventID string) bool {
	if h.cache != nil {
		claimed, err := h.cache.SetNX(ctx, "webhook:stripe:"+eventID, time.Now().Unix(), webhookProcessedTTL)
		if err == nil {
			return claimed
		}
		h.logger.Warn("webhook dedup cache unavailable, using in-process map", zap.Error(err))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, seen := h.processedEvents[eventID]; seen {
		return false
	}
	h.processedEvents[eventID] = time.Now()

	// Trim entries past the retention window so the map stays bounded.
	cutoff := time.Now().Add(-webhookProcessedTTL)
	for id, at := range h.processedEvents {
		if at.Before(cutoff) {
			delete(h.processedEvents, id)
		}
	}
	return true
}

func (h *WebhookHandler) handlePaymentSucceeded(ctx context.Context, event stripe.Event) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		h.logger.Error("failed to decode payment intent",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return
	}

	workspaceID := intent.Metadata["workspace_id"]
	if workspaceID == "" {
		h.logger.Warn("payment intent without workspace_id metadata",
			zap.String("payment_intent", intent.ID),
		)
		return
	}

	amountNano := intent.AmountReceived * nanoPerCent
	balance, err := h.engine.CreditCredits(ctx, workspaceID, amountNano)
	if err != nil {
		h.logger.Error("failed to credit workspace for payment",
			zap.String("workspace_id", workspaceID),
			zap.String("payment_intent", intent.ID),
			zap.Int64("amount_nano", amountNano),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("credited workspace from payment",
		zap.String("workspace_id", workspaceID),
		zap.String("payment_intent", intent.ID),
		zap.Int64("amount_nano", amountNano),
		zap.Int64("balance", balance),
	)

	h.publish(ctx, events.EventBalanceTopUp, workspaceID, map[string]interface{}{
		"payment_intent": intent.ID,
		"amount_nano":    amountNano,
		"balance":        balance,
	})
}

func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		h.logger.Error("failed to decode payment intent",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return
	}

	workspaceID := intent.Metadata["workspace_id"]
	h.logger.Warn("payment failed",
		zap.String("workspace_id", workspaceID),
		zap.String("payment_intent", intent.ID),
	)
	h.publish(ctx, events.EventPaymentFailed, workspaceID, map[string]interface{}{
		"payment_intent": intent.ID,
	})
}

func (h *WebhookHandler) publish(ctx context.Context, eventType events.EventType, workspaceID string, payload map[string]interface{}) {
	if h.bus == nil {
		return
	}
	_ = h.bus.Publish(ctx, events.NewEvent(eventType, workspaceID, payload))
}
