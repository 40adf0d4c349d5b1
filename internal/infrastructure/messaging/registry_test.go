package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	domainmsg "github.com/felixgeelhaar/milepost/pkg/domain/messaging"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []published
	err     error
	flaky   int
	calls   int
	gate    chan struct{}
	closed  bool
	dialURL string
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return c.err
	}
	if c.flaky > 0 {
		c.flaky--
		return errors.New("connection reset")
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func dialerFor(ch *fakeChannel) messaging.Dialer {
	return func(url, exchange string) (messaging.Channel, error) {
		ch.dialURL = url
		return ch, nil
	}
}

func TestRegistry_CreatesAdapters(t *testing.T) {
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{
			{Name: "webhook1", Type: "webhook", URL: "http://example.com", Enabled: true},
			{Name: "slack1", Type: "slack", URL: "http://slack.com/hook", Enabled: true},
			{Name: "broker", Type: "amqp", URL: "amqp://guest@localhost", Enabled: true},
			{Name: "disabled", Type: "webhook", URL: "http://disabled.com", Enabled: false},
		},
	}

	ch := &fakeChannel{}
	registry, err := messaging.NewRegistry(config, dialerFor(ch), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(registry.Adapters()); got != 3 {
		t.Errorf("expected 3 enabled adapters, got %d", got)
	}
	if ch.dialURL != "amqp://guest@localhost" {
		t.Errorf("dialed %q", ch.dialURL)
	}

	registry.Close()
	if !ch.closed {
		t.Error("amqp channel should be closed with the registry")
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{
			{Name: "bad", Type: "unknown", URL: "http://example.com", Enabled: true},
		},
	}

	if _, err := messaging.NewRegistry(config, nil, nil); err == nil {
		t.Error("expected error for unknown adapter type")
	}
}

func TestRegistry_NilConfig(t *testing.T) {
	registry, err := messaging.NewRegistry(nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(registry.Adapters()) != 0 {
		t.Errorf("expected 0 adapters for nil config")
	}
}

func TestRegistry_HandleAppliesFiltersAndRoutingKeys(t *testing.T) {
	ch := &fakeChannel{}
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{{
			Name:         "broker",
			Type:         "amqp",
			Enabled:      true,
			EventFilters: []string{events.TypeBookingProgressUpdated},
			Options:      map[string]string{"exchange": "progress"},
		}},
	}
	registry, err := messaging.NewRegistry(config, dialerFor(ch), nil)
	if err != nil {
		t.Fatal(err)
	}

	dispatcher := events.NewEventDispatcher(nil)
	registry.Register(dispatcher)

	ctx := context.Background()
	dispatcher.Publish(ctx, events.NewBookingProgressUpdated("b-1", 60, "primary"))
	dispatcher.Publish(ctx, events.NewCascadeFinished("b-1", "", "primary", "", 0, nil))
	registry.Close()

	if len(ch.sent) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "progress" || got.key != events.TypeBookingProgressUpdated {
		t.Errorf("published to %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.MessageId == "" {
		t.Errorf("unexpected publishing %+v", got.msg)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body["booking_id"] != "b-1" {
		t.Errorf("body = %v", body)
	}
}

func TestRegistry_HandleDoesNotWaitForDelivery(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker down")}
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{{Name: "broker", Type: "amqp", Enabled: true}},
	}
	registry, err := messaging.NewRegistry(config, dialerFor(ch), nil)
	if err != nil {
		t.Fatal(err)
	}
	store := messaging.NewDeadLetterStore(filepath.Join(t.TempDir(), "deadletter.jsonl"))
	registry.SetDeadLetter(store)

	start := time.Now()
	if err := registry.Handle(context.Background(), events.NewBookingProgressUpdated("b-1", 1, "fallback")); err != nil {
		t.Fatalf("Handle() = %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 100*time.Millisecond {
		t.Errorf("Handle waited for retries: %v", elapsed)
	}

	registry.Close()
	letters, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(letters) != 1 || letters[0].Attempts != messaging.DefaultMaxAttempts {
		t.Errorf("dead letters = %+v", letters)
	}
}

func TestRegistry_FullQueueDeadLetters(t *testing.T) {
	ch := &fakeChannel{gate: make(chan struct{})}
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{{Name: "broker", Type: "amqp", Enabled: true, MaxAttempts: 1}},
	}
	registry, err := messaging.NewRegistry(config, dialerFor(ch), nil)
	if err != nil {
		t.Fatal(err)
	}
	store := messaging.NewDeadLetterStore(filepath.Join(t.TempDir(), "deadletter.jsonl"))
	registry.SetDeadLetter(store)

	var rejected int
	for i := 0; i < messaging.QueueSize+2; i++ {
		err := registry.Handle(context.Background(), events.NewBookingProgressUpdated("b-1", i%100, "primary"))
		if errors.Is(err, messaging.ErrQueueFull) {
			rejected++
		} else if err != nil {
			t.Fatalf("Handle() = %v", err)
		}
	}
	if rejected == 0 {
		t.Fatal("expected at least one rejected event")
	}

	close(ch.gate)
	registry.Close()

	letters, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(letters) != rejected {
		t.Errorf("dead letters = %d, rejected = %d", len(letters), rejected)
	}
	if len(ch.sent)+rejected != messaging.QueueSize+2 {
		t.Errorf("sent = %d, rejected = %d", len(ch.sent), rejected)
	}
}

func TestRegistry_RetriesTransientFailures(t *testing.T) {
	ch := &fakeChannel{flaky: 1}
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{{Name: "broker", Type: "amqp", Enabled: true, MaxAttempts: 2}},
	}
	registry, err := messaging.NewRegistry(config, dialerFor(ch), nil)
	if err != nil {
		t.Fatal(err)
	}
	store := messaging.NewDeadLetterStore(filepath.Join(t.TempDir(), "deadletter.jsonl"))
	registry.SetDeadLetter(store)

	if err := registry.Handle(context.Background(), events.NewBookingProgressUpdated("b-1", 5, "primary")); err != nil {
		t.Fatalf("Handle() = %v", err)
	}
	registry.Close()
	if ch.calls != 2 || len(ch.sent) != 1 {
		t.Errorf("calls = %d, sent = %d", ch.calls, len(ch.sent))
	}
	letters, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(letters) != 0 {
		t.Errorf("expected no dead letters, got %d", len(letters))
	}
}

func TestRegistry_DeadLettersAfterFinalAttempt(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker down")}
	config := &domainmsg.MessagingConfig{
		Adapters: []domainmsg.AdapterConfig{{Name: "broker", Type: "amqp", Enabled: true, MaxAttempts: 2}},
	}
	registry, err := messaging.NewRegistry(config, dialerFor(ch), nil)
	if err != nil {
		t.Fatal(err)
	}
	store := messaging.NewDeadLetterStore(filepath.Join(t.TempDir(), "nested", "deadletter.jsonl"))
	registry.SetDeadLetter(store)

	event := events.NewBookingProgressUpdated("b-1", 5, "primary")
	if err := registry.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle() = %v", err)
	}
	registry.Close()

	letters, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	dl := letters[0]
	if dl.Adapter != "broker" || dl.Type != domainmsg.TypeAMQP || dl.Attempts != 2 {
		t.Errorf("unexpected dead letter %+v", dl)
	}
	if dl.EventID != event.ID || dl.EventType != events.TypeBookingProgressUpdated || dl.Error != "broker down" {
		t.Errorf("unexpected dead letter %+v", dl)
	}
}

func TestDeadLetterStore_MissingFile(t *testing.T) {
	store := messaging.NewDeadLetterStore(filepath.Join(t.TempDir(), "none.jsonl"))
	letters, err := store.ReadAll()
	if err != nil || letters != nil {
		t.Errorf("ReadAll() = %v, %v", letters, err)
	}
}
