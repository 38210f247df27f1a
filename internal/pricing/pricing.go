// Package pricing implements the calculators the credit engine bills with.
// All rates and results are int64 nano-USD; intermediate products use
// big-free integer math (token counts and per-million rates both fit well
// inside int64 for any realistic request).
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/pkg/database"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Rate holds per-million-token prices in nano-USD for one model.
type Rate struct {
	PromptPerMillion       int64
	CompletionPerMillion   int64
	ReasoningPerMillion    int64
	CachedPromptPerMillion int64
}

// costFor applies a rate to usage counters. Division happens last so a
// request never loses more than one nano-unit to truncation.
func costFor(r Rate, usage credits.TokenUsage) int64 {
	total := usage.PromptTokens*r.PromptPerMillion +
		usage.CompletionTokens*r.CompletionPerMillion +
		usage.ReasoningTokens*r.ReasoningPerMillion +
		usage.CachedPromptTokens*r.CachedPromptPerMillion
	return total / 1_000_000
}

// PostgresCalculator reads rates from the model_rates table.
type PostgresCalculator struct {
	db     *database.Database
	logger *zap.Logger

	// fallback is used when a model has no row. Zero fallback means
	// unknown models bill nothing.
	fallback Rate
}

// NewPostgresCalculator creates a table-backed calculator.
func NewPostgresCalculator(db *database.Database, logger *zap.Logger, fallback Rate) *PostgresCalculator {
	return &PostgresCalculator{db: db, logger: logger, fallback: fallback}
}

func (c *PostgresCalculator) Cost(ctx context.Context, provider, model string, usage credits.TokenUsage) (int64, error) {
	var r Rate
	err := c.db.Pool.QueryRow(ctx, `
		SELECT prompt_nano_per_million, completion_nano_per_million,
			reasoning_nano_per_million, cached_prompt_nano_per_million
		FROM model_rates
		WHERE provider = $1 AND model = $2
	`, provider, model).Scan(
		&r.PromptPerMillion, &r.CompletionPerMillion,
		&r.ReasoningPerMillion, &r.CachedPromptPerMillion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.logger.Warn("no rate for model, using fallback",
				zap.String("provider", provider),
				zap.String("model", model),
			)
			return costFor(c.fallback, usage), nil
		}
		return 0, fmt.Errorf("failed to read model rate: %w", err)
	}

	return costFor(r, usage), nil
}

// StaticCalculator serves rates from an in-memory table, keyed by
// "provider/model". Used in tests and local development.
type StaticCalculator struct {
	rates    map[string]Rate
	fallback Rate
}

// NewStaticCalculator creates a calculator over a fixed rate table.
func NewStaticCalculator(rates map[string]Rate, fallback Rate) *StaticCalculator {
	normalized := make(map[string]Rate, len(rates))
	for key, r := range rates {
		normalized[strings.ToLower(key)] = r
	}
	return &StaticCalculator{rates: normalized, fallback: fallback}
}

func (c *StaticCalculator) Cost(ctx context.Context, provider, model string, usage credits.TokenUsage) (int64, error) {
	r, ok := c.rates[strings.ToLower(provider+"/"+model)]
	if !ok {
		r = c.fallback
	}
	return costFor(r, usage), nil
}
