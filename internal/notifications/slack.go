// Package notifications alerts operators about billing anomalies. The
// engine only accounts money — whether a workspace in the red gets
// suspended is a product decision made elsewhere, so this package observes
// and reports, nothing more.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crosslogic/credit-plane/pkg/events"
	"go.uber.org/zap"
)

// SlackNotifier posts balance alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
	logger     *zap.Logger
}

// NewSlackNotifier creates a notifier for the given webhook URL.
func NewSlackNotifier(webhookURL, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Register subscribes the notifier to the events it reports on.
func (s *SlackNotifier) Register(bus *events.Bus) {
	bus.Subscribe(events.EventBalanceNegative, s.handleNegativeBalance)
	bus.Subscribe(events.EventPaymentFailed, s.handlePaymentFailed)
}

func (s *SlackNotifier) handleNegativeBalance(ctx context.Context, event events.Event) error {
	balance, _ := event.Payload["balance"].(int64)
	text := fmt.Sprintf(":warning: workspace `%s` balance went negative: %d nano-USD",
		event.WorkspaceID, balance)
	return s.post(ctx, text)
}

func (s *SlackNotifier) handlePaymentFailed(ctx context.Context, event events.Event) error {
	text := fmt.Sprintf(":x: payment failed for workspace `%s`", event.WorkspaceID)
	return s.post(ctx, text)
}

type slackPayload struct {
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

func (s *SlackNotifier) post(ctx context.Context, text string) error {
	body, err := json.Marshal(slackPayload{
		Channel:  s.channel,
		Username: "credit-plane",
		Text:     text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	s.logger.Debug("sent slack notification", zap.String("text", text))
	return nil
}
