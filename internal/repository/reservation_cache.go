package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/transit-booking/internal/model"
)

const (
	reservationKeyPrefix = "reservation:"
	triggerKeyPrefix     = "reservation:trigger:"
)

// ReservationCache keeps active seat holds in Redis.  Each hold is a data
// key carrying the reservation JSON and a trigger key that expires after
// the hold window.  The data key outlives the trigger so that the expiry
// handler can still read the hold when the trigger fires.
type ReservationCache struct {
	rdb *redis.Client
}

// NewReservationCache wraps a connected Redis client.
func NewReservationCache(rdb *redis.Client) *ReservationCache { return &ReservationCache{rdb: rdb} }

// Client returns the underlying Redis client.
func (c *ReservationCache) Client() *redis.Client { return c.rdb }

// ReservationKey is the data key of a hold.
func ReservationKey(id string) string { return reservationKeyPrefix + id }

// TriggerKey is the key whose expiry marks the end of a hold.
func TriggerKey(id string) string { return triggerKeyPrefix + id }

// ReservationIDFromTriggerKey extracts the reservation id from an expired
// key name.  It reports false for any other key, including data keys.
func ReservationIDFromTriggerKey(key string) (string, bool) {
	if !strings.HasPrefix(key, triggerKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, triggerKeyPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// ExpiredChannel is the keyspace notification channel for expired keys in
// the client's database.
func (c *ReservationCache) ExpiredChannel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", c.rdb.Options().DB)
}

// Put writes both keys of a hold in one MULTI/EXEC round trip.
func (c *ReservationCache) Put(ctx context.Context, res *model.Reservation, holdWindow time.Duration) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, ReservationKey(res.ReservationID), body, 2*holdWindow)
		p.Set(ctx, TriggerKey(res.ReservationID), "", holdWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache reservation %s: %w", res.ReservationID, err)
	}
	return nil
}

// Get returns the hold stored under id, or nil when it does not exist.
func (c *ReservationCache) Get(ctx context.Context, id string) (*model.Reservation, error) {
	body, err := c.rdb.Get(ctx, ReservationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reservation %s: %w", id, err)
	}
	var res model.Reservation
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return &res, nil
}

// Delete removes both keys of a hold.  Missing keys are not an error.
func (c *ReservationCache) Delete(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, ReservationKey(id), TriggerKey(id)).Err(); err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	return nil
}
