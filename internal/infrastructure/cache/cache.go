// Package cache keeps the latest booking and milestone progress in Redis so
// readers can skip the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
)

const keyPrefix = "milepost"

// writeTimeout caps each cache update made on the publish path.
const writeTimeout = 250 * time.Millisecond

// Client is the part of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Options mirrors the redis config section.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a Redis client. The connection is established lazily.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  time.Second,
		ReadTimeout:  writeTimeout,
		WriteTimeout: writeTimeout,
	})
}

// Entry is the cached view of a rolled-up percentage.
type Entry struct {
	Progress  int       `json:"progress_percentage"`
	Strategy  string    `json:"strategy,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func BookingKey(id string) string {
	return fmt.Sprintf("%s:booking:%s:progress", keyPrefix, id)
}

func MilestoneKey(id string) string {
	return fmt.Sprintf("%s:milestone:%s:progress", keyPrefix, id)
}

type ProgressCache struct {
	rdb    Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewProgressCache(rdb Client, ttl time.Duration, logger *zap.Logger) *ProgressCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressCache{rdb: rdb, ttl: ttl, logger: logger}
}

// Ping checks that Redis answers.
func (c *ProgressCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Booking returns the cached booking progress. ok is false on a miss.
func (c *ProgressCache) Booking(ctx context.Context, bookingID string) (Entry, bool, error) {
	return c.get(ctx, BookingKey(bookingID))
}

// Milestone returns the cached milestone progress. ok is false on a miss.
func (c *ProgressCache) Milestone(ctx context.Context, milestoneID string) (Entry, bool, error) {
	return c.get(ctx, MilestoneKey(milestoneID))
}

func (c *ProgressCache) get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return e, true, nil
}

func (c *ProgressCache) put(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// Handle keeps the cache in step with cascade events. A degraded cascade
// evicts the booking entry since the stored value may now be stale.
func (c *ProgressCache) Handle(ctx context.Context, event events.DomainEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	var err error
	switch e := event.(type) {
	case *events.BookingProgressUpdated:
		err = c.put(ctx, BookingKey(e.BookingID), Entry{Progress: e.Progress, Strategy: e.Strategy, UpdatedAt: e.OccurredAt()})
	case *events.MilestoneRecalculated:
		err = c.put(ctx, MilestoneKey(e.MilestoneID), Entry{Progress: e.Progress, UpdatedAt: e.OccurredAt()})
	case *events.MilestoneMutated:
		// Explicit progress or a status change may bypass recalculation.
		err = c.rdb.Del(ctx, MilestoneKey(e.MilestoneID)).Err()
	case *events.MilestoneDeleted:
		err = c.rdb.Del(ctx, MilestoneKey(e.MilestoneID)).Err()
	case *events.CascadeFinished:
		if e.Degraded {
			err = c.rdb.Del(ctx, BookingKey(e.BookingID)).Err()
		}
	default:
		return nil
	}
	if err != nil {
		c.logger.Warn("progress cache update failed",
			zap.String("event_type", event.EventType()),
			zap.String("aggregate_id", event.AggregateID()),
			zap.Error(err),
		)
	}
	return err
}

// Register subscribes the cache to the events it tracks.
func (c *ProgressCache) Register(d *events.EventDispatcher) {
	d.RegisterHandler("progress-cache", c.Handle,
		events.TypeBookingProgressUpdated,
		events.TypeMilestoneRecalculated,
		events.TypeMilestoneMutated,
		events.TypeMilestoneDeleted,
		events.TypeCascadeDegraded,
	)
}
