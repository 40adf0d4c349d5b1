package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/messaging"
)

// DefaultMaxAttempts applies when an adapter does not set max_attempts.
const DefaultMaxAttempts = 3

// QueueSize bounds the deliveries waiting per adapter. Events beyond it are
// dead-lettered instead of blocking the publisher.
const QueueSize = 256

const retryDelay = 200 * time.Millisecond

// ErrQueueFull is returned by Handle when an adapter's queue has no room.
var ErrQueueFull = errors.New("delivery queue full")

// Registry creates messaging adapters from configuration. Each adapter gets a
// queue drained by its own worker, so publishers never wait on delivery.
type Registry struct {
	adapters   []*registered
	deadLetter *DeadLetterStore
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type registered struct {
	adapter messaging.MessageAdapter
	config  messaging.AdapterConfig
	queue   chan delivery
}

type delivery struct {
	ctx   context.Context
	event events.DomainEvent
}

// Dialer opens the broker channel for amqp adapters.
type Dialer func(url, exchange string) (Channel, error)

// NewRegistry creates adapters from a MessagingConfig and starts one delivery
// worker per adapter. dial may be nil when no amqp adapter is configured.
func NewRegistry(config *messaging.MessagingConfig, dial Dialer, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}
	if config == nil {
		return r, nil
	}

	for _, cfg := range config.Adapters {
		if !cfg.Enabled {
			continue
		}

		adapter, err := createAdapter(cfg, dial)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create adapter %q: %w", cfg.Name, err)
		}
		a := &registered{adapter: adapter, config: cfg, queue: make(chan delivery, QueueSize)}
		r.adapters = append(r.adapters, a)
		r.wg.Add(1)
		go r.work(a)
	}

	return r, nil
}

// Adapters returns all active adapters.
func (r *Registry) Adapters() []messaging.MessageAdapter {
	out := make([]messaging.MessageAdapter, len(r.adapters))
	for i, a := range r.adapters {
		out[i] = a.adapter
	}
	return out
}

// SetDeadLetter records deliveries that still fail after every attempt. Call
// it before events are handled.
func (r *Registry) SetDeadLetter(store *DeadLetterStore) {
	r.deadLetter = store
}

// Handle queues event for every adapter whose filter accepts it and returns
// without waiting for delivery. A full queue dead-letters the event for that
// adapter and reports ErrQueueFull.
func (r *Registry) Handle(ctx context.Context, event events.DomainEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}

	var first error
	for _, a := range r.adapters {
		if !a.config.Accepts(event.EventType()) {
			continue
		}
		select {
		case a.queue <- delivery{ctx: context.WithoutCancel(ctx), event: event}:
		default:
			err := fmt.Errorf("adapter %q: %w", a.adapter.Name(), ErrQueueFull)
			r.logger.Warn("message queue full",
				zap.String("adapter", a.adapter.Name()),
				zap.String("event_type", event.EventType()),
			)
			r.bury(a, event, 0, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (r *Registry) work(a *registered) {
	defer r.wg.Done()
	for d := range a.queue {
		attempts, err := r.deliver(d.ctx, a, d.event)
		if err == nil {
			continue
		}
		r.logger.Warn("message adapter failed",
			zap.String("adapter", a.adapter.Name()),
			zap.String("event_type", d.event.EventType()),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		r.bury(a, d.event, attempts, err)
	}
}

func (r *Registry) deliver(ctx context.Context, a *registered, event events.DomainEvent) (int, error) {
	maxAttempts := a.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	retryer := retry.New[struct{}](retry.Config{
		MaxAttempts:   maxAttempts,
		InitialDelay:  retryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})

	var (
		attempts int
		lastErr  error
	)
	_, err := retryer.Do(ctx, func(ctx context.Context) (struct{}, error) {
		attempts++
		lastErr = a.adapter.Send(ctx, event)
		return struct{}{}, lastErr
	})
	if err == nil {
		return attempts, nil
	}
	if lastErr != nil {
		return attempts, lastErr
	}
	return attempts, err
}

func (r *Registry) bury(a *registered, event events.DomainEvent, attempts int, cause error) {
	if r.deadLetter == nil {
		return
	}
	payload, _ := json.Marshal(event)
	dl := DeadLetter{
		Timestamp: time.Now().UTC(),
		Adapter:   a.adapter.Name(),
		Type:      a.adapter.Type(),
		EventType: event.EventType(),
		Payload:   string(payload),
		Error:     cause.Error(),
		Attempts:  attempts,
	}
	if identified, ok := event.(interface{ EventID() string }); ok {
		dl.EventID = identified.EventID()
	}
	if err := r.deadLetter.Append(dl); err != nil {
		r.logger.Error("dead letter write failed", zap.String("adapter", dl.Adapter), zap.Error(err))
	}
}

// Register subscribes the registry to every event on d.
func (r *Registry) Register(d *events.EventDispatcher) {
	if len(r.adapters) == 0 {
		return
	}
	d.RegisterWildcard("messaging", r.Handle)
}

// Close stops accepting events, waits for queued deliveries to finish and
// releases adapters that hold connections. It is safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, a := range r.adapters {
		close(a.queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
	for _, a := range r.adapters {
		if c, ok := a.adapter.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

func createAdapter(cfg messaging.AdapterConfig, dial Dialer) (messaging.MessageAdapter, error) {
	switch cfg.Type {
	case messaging.TypeWebhook:
		return NewWebhookAdapter(cfg), nil
	case messaging.TypeSlack:
		return NewSlackAdapter(cfg), nil
	case messaging.TypeAMQP:
		if dial == nil {
			dial = DialAMQP
		}
		exchange := cfg.Options["exchange"]
		if exchange == "" {
			exchange = DefaultExchange
		}
		ch, err := dial(cfg.URL, exchange)
		if err != nil {
			return nil, err
		}
		return NewAMQPAdapter(cfg, ch, exchange), nil
	default:
		return nil, fmt.Errorf("unknown adapter type: %s", cfg.Type)
	}
}
