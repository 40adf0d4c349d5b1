package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// JournalEntry is one recorded domain event, chained to its predecessor by hash.
type JournalEntry struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	BookingID     string          `json:"booking_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	PrevHash      string          `json:"prev_hash"`
	Hash          string          `json:"hash"`
}

// NewJournalEntry captures event with its JSON payload. Hashes are set by the journal.
func NewJournalEntry(event DomainEvent) (*JournalEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	entry := &JournalEntry{
		Type:          event.EventType(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		BookingID:     BookingOf(event),
		Timestamp:     event.OccurredAt(),
		Payload:       payload,
	}
	if identified, ok := event.(interface{ EventID() string }); ok {
		entry.ID = identified.EventID()
	}
	return entry, nil
}

// CalculateHash covers every field except Hash itself.
func (e *JournalEntry) CalculateHash() string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.AggregateType))
	h.Write([]byte(e.AggregateID))
	h.Write([]byte(e.BookingID))
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Journal persists domain events as a tamper-evident audit trail.
type Journal interface {
	// Append records the event, chaining it to the previous entry.
	Append(ctx context.Context, event DomainEvent) error

	// LoadAll returns all entries in the order they were appended.
	LoadAll() ([]*JournalEntry, error)

	// LoadByBooking returns the entries that concern one booking.
	LoadByBooking(bookingID string) ([]*JournalEntry, error)

	// VerifyIntegrity reports broken links in the hash chain.
	VerifyIntegrity() ([]string, error)
}

// BookingOf returns the booking an event concerns, or "" for task events,
// which only carry their milestone.
func BookingOf(event DomainEvent) string {
	switch e := event.(type) {
	case *MilestoneMutated:
		return e.BookingID
	case *MilestoneDeleted:
		return e.BookingID
	case *MilestoneRecalculated:
		return e.BookingID
	case *BookingProgressUpdated:
		return e.BookingID
	case *CascadeFinished:
		return e.BookingID
	default:
		return ""
	}
}
