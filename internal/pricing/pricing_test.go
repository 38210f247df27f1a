package pricing

import (
	"context"
	"testing"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/stretchr/testify/require"
)

func TestStaticCalculatorAppliesRates(t *testing.T) {
	calc := NewStaticCalculator(map[string]Rate{
		"openrouter/gpt-4o": {
			PromptPerMillion:       2_500_000_000, // $2.50 per million prompt tokens
			CompletionPerMillion:   10_000_000_000,
			ReasoningPerMillion:    10_000_000_000,
			CachedPromptPerMillion: 1_250_000_000,
		},
	}, Rate{})

	tests := []struct {
		name  string
		usage credits.TokenUsage
		want  int64
	}{
		{
			name:  "prompt only",
			usage: credits.TokenUsage{PromptTokens: 1_000_000},
			want:  2_500_000_000,
		},
		{
			name: "mixed counters",
			usage: credits.TokenUsage{
				PromptTokens:       1000,
				CompletionTokens:   500,
				ReasoningTokens:    200,
				CachedPromptTokens: 4000,
			},
			// (1000*2.5e9 + 500*1e10 + 200*1e10 + 4000*1.25e9) / 1e6
			want: 14_500_000,
		},
		{
			name:  "zero usage",
			usage: credits.TokenUsage{},
			want:  0,
		},
		{
			name:  "sub-million truncates toward zero",
			usage: credits.TokenUsage{PromptTokens: 1},
			want:  2_500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Cost(context.Background(), "openrouter", "gpt-4o", tt.usage)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStaticCalculatorFallback(t *testing.T) {
	calc := NewStaticCalculator(nil, Rate{PromptPerMillion: 1_000_000})

	got, err := calc.Cost(context.Background(), "unknown", "model", credits.TokenUsage{PromptTokens: 2_000_000})
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000), got)
}

func TestStaticCalculatorKeyIsCaseInsensitive(t *testing.T) {
	calc := NewStaticCalculator(map[string]Rate{
		"OpenRouter/GPT-4o": {PromptPerMillion: 1_000_000},
	}, Rate{})

	got, err := calc.Cost(context.Background(), "openrouter", "gpt-4o", credits.TokenUsage{PromptTokens: 1_000_000})
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), got)
}
