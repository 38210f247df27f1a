package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/pkg/cache"
	"github.com/go-redis/redis/v8"
)

const reservationKeyPrefix = "reservation:"

// RedisReservationStore keeps reservations in Redis, using the key TTL as
// the orphan-cleanup mechanism: an abandoned reservation disappears on its
// own when Expires passes, and its absence reads as "already settled".
//
// Each reservation has at most one writer at a time (the pipeline stages
// run sequentially per unit of work), so Update can be a plain
// read-modify-write.
type RedisReservationStore struct {
	cache *cache.Cache
}

// NewRedisReservationStore creates a reservation store backed by Redis.
func NewRedisReservationStore(c *cache.Cache) *RedisReservationStore {
	return &RedisReservationStore{cache: c}
}

func (s *RedisReservationStore) Get(ctx context.Context, reservationID string) (*credits.CreditReservation, error) {
	raw, err := s.cache.Get(ctx, reservationKeyPrefix+reservationID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, credits.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to read reservation: %w", err)
	}

	var res credits.CreditReservation
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("failed to decode reservation %s: %w", reservationID, err)
	}
	return &res, nil
}

func (s *RedisReservationStore) Create(ctx context.Context, res *credits.CreditReservation) error {
	return s.write(ctx, res)
}

func (s *RedisReservationStore) Update(ctx context.Context, reservationID string, upd credits.ReservationUpdate) error {
	res, err := s.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	applyUpdate(res, upd)
	return s.write(ctx, res)
}

func (s *RedisReservationStore) Delete(ctx context.Context, reservationID string) error {
	return s.cache.Delete(ctx, reservationKeyPrefix+reservationID)
}

func (s *RedisReservationStore) write(ctx context.Context, res *credits.CreditReservation) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode reservation %s: %w", res.ID, err)
	}

	ttl := time.Until(res.Expires)
	if ttl <= 0 {
		// Already past its window; keep it briefly so in-flight stages
		// can still settle it.
		ttl = time.Minute
	}
	if err := s.cache.Set(ctx, reservationKeyPrefix+res.ID, raw, ttl); err != nil {
		return fmt.Errorf("failed to write reservation %s: %w", res.ID, err)
	}
	return nil
}
