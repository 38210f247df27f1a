package billing

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const testSecret = "whsec_test_secret"

// fakeCrediter records credit calls.
type fakeCrediter struct {
	workspaceID string
	amount      int64
	calls       int
}

func (f *fakeCrediter) CreditCredits(ctx context.Context, workspaceID string, amount int64) (int64, error) {
	f.workspaceID = workspaceID
	f.amount = amount
	f.calls++
	return amount, nil
}

func TestWebhookHandler_HandleWebhook_SignatureVerification(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	// Cache and bus stay nil; signature verification happens before either
	// is touched.
	handler := NewWebhookHandler(testSecret, &fakeCrediter{}, nil, nil, logger)

	validPayload := []byte(`{"id": "evt_123", "object": "event", "api_version": "2023-10-16"}`)

	tests := []struct {
		name           string
		payload        []byte
		signature      string
		expectedStatus int
	}{
		{
			name:           "No signature",
			payload:        []byte(`{}`),
			signature:      "",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid signature",
			payload:        []byte(`{}`),
			signature:      "t=123,v1=invalid",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Valid signature",
			payload:        validPayload,
			signature:      generateSignature(t, validPayload, testSecret),
			expectedStatus: http.StatusOK, // Unknown event type returns 200
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(tt.payload))
			if tt.signature != "" {
				req.Header.Set("Stripe-Signature", tt.signature)
			}
			w := httptest.NewRecorder()

			handler.HandleWebhook(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestWebhookHandler_PaymentSucceededCreditsWorkspace(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	crediter := &fakeCrediter{}
	handler := NewWebhookHandler(testSecret, crediter, nil, nil, logger)

	payload := []byte(`{
		"id": "evt_topup_1",
		"object": "event",
		"api_version": "2023-10-16",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"amount_received": 500,
			"metadata": {"workspace_id": "ws1"}
		}}
	}`)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", generateSignature(t, payload, testSecret))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if crediter.calls != 1 {
		t.Fatalf("expected 1 credit call, got %d", crediter.calls)
	}
	if crediter.workspaceID != "ws1" {
		t.Errorf("expected workspace ws1, got %s", crediter.workspaceID)
	}
	// 500 cents at 10,000,000 nano per cent.
	if crediter.amount != 5_000_000_000 {
		t.Errorf("expected 5,000,000,000 nano credited, got %d", crediter.amount)
	}
}

func TestWebhookHandler_PaymentWithoutWorkspaceIsIgnored(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	crediter := &fakeCrediter{}
	handler := NewWebhookHandler(testSecret, crediter, nil, nil, logger)

	payload := []byte(`{
		"id": "evt_topup_2",
		"object": "event",
		"api_version": "2023-10-16",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_2", "amount_received": 500}}
	}`)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", generateSignature(t, payload, testSecret))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if crediter.calls != 0 {
		t.Errorf("expected no credit calls, got %d", crediter.calls)
	}
}

func TestWebhookHandler_Idempotency(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	crediter := &fakeCrediter{}
	handler := NewWebhookHandler(testSecret, crediter, nil, nil, logger)

	payload := []byte(`{
		"id": "evt_idempotency_test",
		"object": "event",
		"api_version": "2023-10-16",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_3",
			"amount_received": 100,
			"metadata": {"workspace_id": "ws1"}
		}}
	}`)
	signature := generateSignature(t, payload, testSecret)

	// First delivery credits the workspace.
	req1 := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(payload))
	req1.Header.Set("Stripe-Signature", signature)
	w1 := httptest.NewRecorder()
	handler.HandleWebhook(w1, req1)

	if w1.Code != http.StatusOK {
		t.Fatalf("first request failed: %d", w1.Code)
	}
	if crediter.calls != 1 {
		t.Fatalf("expected 1 credit call, got %d", crediter.calls)
	}

	handler.mu.Lock()
	if _, exists := handler.processedEvents["evt_idempotency_test"]; !exists {
		t.Error("event not marked as processed")
	}
	handler.mu.Unlock()

	// Stripe redelivery: 200 again, but no second credit.
	req2 := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", signature)
	w2 := httptest.NewRecorder()
	handler.HandleWebhook(w2, req2)

	if w2.Code != http.StatusOK {
		t.Errorf("second request failed: %d", w2.Code)
	}
	if crediter.calls != 1 {
		t.Errorf("duplicate delivery credited again: %d calls", crediter.calls)
	}
}

func generateSignature(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	now := time.Now().Unix()
	signature := webhook.ComputeSignature(time.Unix(now, 0), payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now, hex.EncodeToString(signature))
}
