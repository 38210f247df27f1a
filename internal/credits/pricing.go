package credits

import (
	"context"

	"github.com/crosslogic/credit-plane/pkg/metrics"
	"go.uber.org/zap"
)

// tokenUsageCost asks the pricing calculator what the measured usage costs
// and sanitizes the answer. A calculator error or a negative result both
// collapse to zero: a pricing-table bug must never credit money to a tenant.
func (e *Engine) tokenUsageCost(ctx context.Context, provider, model string, usage TokenUsage) int64 {
	cost, err := e.pricing.Cost(ctx, provider, model, usage)
	if err != nil {
		e.logger.Error("pricing calculator failed, billing zero",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.Error(err),
		)
		return 0
	}

	if cost < 0 {
		e.logger.Warn("pricing calculator returned negative cost, clamping to zero",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.Int64("cost_nano", cost),
			zap.Int64("prompt_tokens", usage.PromptTokens),
			zap.Int64("completion_tokens", usage.CompletionTokens),
			zap.Int64("reasoning_tokens", usage.ReasoningTokens),
			zap.Int64("cached_prompt_tokens", usage.CachedPromptTokens),
		)
		metrics.NegativeCostClamps.Inc()
		return 0
	}

	return cost
}
