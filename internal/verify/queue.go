// Package verify carries cost-verification traffic between the credit
// engine and the upstream billing partner over Redis lists. Requests go out
// on one list; authoritative results come back on another, at least once
// and in no particular order — the engine's absence-equals-settled rule is
// what makes that safe.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/pkg/cache"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// RequestQueueKey is where verification requests are published.
	RequestQueueKey = "verify:requests"

	// ResultQueueKey is where the billing partner's confirmations arrive.
	ResultQueueKey = "verify:results"
)

// RedisQueue publishes verification requests onto a Redis list.
type RedisQueue struct {
	cache  *cache.Cache
	logger *zap.Logger
}

// NewRedisQueue creates a verification queue over the shared Redis client.
func NewRedisQueue(c *cache.Cache, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{cache: c, logger: logger}
}

// Publish pushes one verification request. The caller treats failures as
// non-fatal; this method just reports them.
func (q *RedisQueue) Publish(ctx context.Context, req credits.VerificationRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode verification request: %w", err)
	}
	if err := q.cache.Client.LPush(ctx, RequestQueueKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish verification request: %w", err)
	}
	return nil
}

// Result is the billing partner's authoritative cost for one reservation.
type Result struct {
	ReservationID string `json:"reservation_id"`
	GenerationID  string `json:"generation_id"`
	CostNano      int64  `json:"cost_nano"`
}

// Finalizer is the slice of the credit engine the consumer needs.
type Finalizer interface {
	FinalizeReservation(ctx context.Context, reservationID string, verifiedCost int64) (int64, error)
}

// Consumer drains the result queue and finalizes the matching
// reservations. Duplicate deliveries finalize already-deleted rows, which
// the engine treats as no-ops.
type Consumer struct {
	cache        *cache.Cache
	engine       Finalizer
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewConsumer creates a verification result consumer.
func NewConsumer(c *cache.Cache, engine Finalizer, logger *zap.Logger, pollInterval time.Duration) *Consumer {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Consumer{cache: c, engine: engine, logger: logger, pollInterval: pollInterval}
}

// Start runs the drain loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		c.logger.Info("verification consumer started",
			zap.String("queue", ResultQueueKey),
			zap.Duration("poll_interval", c.pollInterval),
		)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("verification consumer stopped")
				return
			default:
			}

			if err := c.drainOne(ctx); err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				c.logger.Error("failed to drain verification result", zap.Error(err))
				// Back off so a broken queue does not spin the loop.
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.pollInterval):
				}
			}
		}
	}()
}

// drainOne blocks for up to pollInterval waiting for one result and
// processes it. Returns redis.Nil when the queue stayed empty.
func (c *Consumer) drainOne(ctx context.Context) error {
	vals, err := c.cache.Client.BRPop(ctx, c.pollInterval, ResultQueueKey).Result()
	if err != nil {
		return err
	}
	// BRPop returns [key, value].
	if len(vals) != 2 {
		return fmt.Errorf("unexpected BRPOP reply of length %d", len(vals))
	}

	var result Result
	if err := json.Unmarshal([]byte(vals[1]), &result); err != nil {
		c.logger.Error("discarding undecodable verification result",
			zap.String("raw", vals[1]),
			zap.Error(err),
		)
		return nil
	}

	balance, err := c.engine.FinalizeReservation(ctx, result.ReservationID, result.CostNano)
	if err != nil {
		c.logger.Error("failed to finalize reservation from verification result",
			zap.String("reservation_id", result.ReservationID),
			zap.String("generation_id", result.GenerationID),
			zap.Error(err),
		)
		return nil
	}

	c.logger.Debug("finalized reservation from verification result",
		zap.String("reservation_id", result.ReservationID),
		zap.Int64("cost_nano", result.CostNano),
		zap.Int64("balance", balance),
	)
	return nil
}
