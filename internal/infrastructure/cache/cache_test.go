package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// fakeRedis stores values in a map and records TTLs.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestKeys(t *testing.T) {
	if got := BookingKey("b-1"); got != "milepost:booking:b-1:progress" {
		t.Errorf("BookingKey = %q", got)
	}
	if got := MilestoneKey("m-1"); got != "milepost:milestone:m-1:progress" {
		t.Errorf("MilestoneKey = %q", got)
	}
}

func TestProgressCache_FollowsEvents(t *testing.T) {
	rdb := newFakeRedis()
	c := NewProgressCache(rdb, time.Minute, nil)
	d := events.NewEventDispatcher(nil)
	c.Register(d)
	ctx := context.Background()

	if _, ok, err := c.Booking(ctx, "b-1"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	d.Publish(ctx, events.NewBookingProgressUpdated("b-1", 25, "primary"))
	entry, ok, err := c.Booking(ctx, "b-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if entry.Progress != 25 || entry.Strategy != "primary" {
		t.Errorf("entry = %+v", entry)
	}
	if rdb.ttls[BookingKey("b-1")] != time.Minute {
		t.Errorf("ttl = %v", rdb.ttls[BookingKey("b-1")])
	}

	m := &progress.Milestone{ID: "m-1", BookingID: "b-1", ProgressPercentage: 50}
	d.Publish(ctx, events.NewMilestoneRecalculated(m))
	if e, ok, _ := c.Milestone(ctx, "m-1"); !ok || e.Progress != 50 {
		t.Errorf("milestone entry = %+v ok=%v", e, ok)
	}
	d.Publish(ctx, events.NewMilestoneDeleted(m))
	if _, ok, _ := c.Milestone(ctx, "m-1"); ok {
		t.Error("deleted milestone should be evicted")
	}

	d.Publish(ctx, events.NewCascadeFinished("b-1", "", "none", "error", 0, errors.New("down")))
	if _, ok, _ := c.Booking(ctx, "b-1"); ok {
		t.Error("degraded cascade should evict the booking entry")
	}
}

func TestProgressCache_ErrorsSurface(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	c := NewProgressCache(rdb, time.Minute, nil)

	if _, _, err := c.Booking(context.Background(), "b-1"); err == nil {
		t.Error("expected read error")
	}
	if err := c.Handle(context.Background(), events.NewBookingProgressUpdated("b-1", 1, "primary")); err == nil {
		t.Error("expected write error")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
