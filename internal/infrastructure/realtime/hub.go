// Package realtime streams progress events to browsers over Server-Sent
// Events and WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
)

// Message is what clients receive for every event.
type Message struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

func newMessage(event events.DomainEvent) (Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Data:        data,
	}
	if b, ok := event.(interface{ EventID() string }); ok {
		m.ID = b.EventID()
	}
	return m, nil
}

// Filter selects which messages a subscriber gets. Empty fields match all.
type Filter struct {
	Types     map[string]bool
	BookingID string
}

// ParseFilter reads "types" (comma separated) and "booking" query values.
func ParseFilter(types, booking string) Filter {
	f := Filter{BookingID: booking}
	if types != "" {
		f.Types = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types[t] = true
			}
		}
	}
	return f
}

func (f Filter) match(m Message, bookingID string) bool {
	if len(f.Types) > 0 && !f.Types[m.Type] {
		return false
	}
	if f.BookingID != "" && f.BookingID != bookingID {
		return false
	}
	return true
}

type envelope struct {
	msg       Message
	bookingID string
}

// Hub fans events out to subscribers. Slow subscribers lose messages rather
// than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan envelope]Filter
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan envelope]Filter)}
}

// Handle broadcasts event to matching subscribers.
func (h *Hub) Handle(_ context.Context, event events.DomainEvent) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	env := envelope{msg: msg, bookingID: events.BookingOf(event)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, filter := range h.clients {
		if !filter.match(msg, env.bookingID) {
			continue
		}
		select {
		case ch <- env:
		default:
			// Drop if client is slow
		}
	}
	return nil
}

// Register subscribes the hub to every event on d.
func (h *Hub) Register(d *events.EventDispatcher) {
	d.RegisterWildcard("realtime", h.Handle)
}

// Subscribe returns a message channel and a cancel func that must be called.
func (h *Hub) Subscribe(f Filter) (<-chan Message, func()) {
	in := make(chan envelope, 64)
	out := make(chan Message, 64)

	h.mu.Lock()
	h.clients[in] = f
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case env := <-in:
				select {
				case out <- env.msg:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, in)
			h.mu.Unlock()
			close(done)
		})
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
