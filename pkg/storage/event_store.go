package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
)

// JournalFile is the journal's name inside the .milepost directory.
const JournalFile = "events.jsonl"

// FileJournal implements events.Journal using a JSON Lines file.
type FileJournal struct {
	mu       sync.RWMutex
	path     string
	basePath string
	lastHash string
}

// NewFileJournal opens the journal in basePath. The directory is created on
// first write.
func NewFileJournal(basePath string) (*FileJournal, error) {
	j := &FileJournal{path: filepath.Join(basePath, JournalFile), basePath: basePath}

	entries, err := j.loadEntries()
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		j.lastHash = entries[len(entries)-1].Hash
	}
	return j, nil
}

// Path returns the journal file location.
func (j *FileJournal) Path() string {
	return j.path
}

// Append adds event to the end of the journal.
func (j *FileJournal) Append(_ context.Context, event events.DomainEvent) (err error) {
	entry, err := events.NewJournalEntry(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.basePath, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	entry.PrevHash = j.lastHash
	entry.Hash = entry.CalculateHash()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close journal: %w", cerr)
		}
	}()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	j.lastHash = entry.Hash
	return nil
}

// Handle lets the journal subscribe to the event dispatcher.
func (j *FileJournal) Handle(ctx context.Context, event events.DomainEvent) error {
	return j.Append(ctx, event)
}

// Register subscribes the journal to every event.
func (j *FileJournal) Register(d *events.EventDispatcher) {
	d.RegisterWildcard("journal", j.Handle)
}

func (j *FileJournal) LoadAll() ([]*events.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.loadEntries()
}

func (j *FileJournal) LoadByBooking(bookingID string) ([]*events.JournalEntry, error) {
	all, err := j.LoadAll()
	if err != nil {
		return nil, err
	}
	var result []*events.JournalEntry
	for _, e := range all {
		if e.BookingID == bookingID || (e.AggregateType == "booking" && e.AggregateID == bookingID) {
			result = append(result, e)
		}
	}
	return result, nil
}

// VerifyIntegrity checks the hash chain for tampering.
func (j *FileJournal) VerifyIntegrity() ([]string, error) {
	entries, err := j.LoadAll()
	if err != nil {
		return nil, err
	}

	var violations []string
	lastHash := ""
	for i, e := range entries {
		if e.PrevHash != lastHash {
			violations = append(violations, fmt.Sprintf("Entry %d (%s): PrevHash mismatch", i, e.ID))
		}
		if e.Hash != e.CalculateHash() {
			violations = append(violations, fmt.Sprintf("Entry %d (%s): Hash mismatch - possible tampering", i, e.ID))
		}
		lastHash = e.Hash
	}
	return violations, nil
}

func (j *FileJournal) loadEntries() ([]*events.JournalEntry, error) {
	// #nosec G304 -- path is fixed under the workspace's .milepost directory
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var result []*events.JournalEntry
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry events.JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		result = append(result, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return result, nil
}

var _ events.Journal = (*FileJournal)(nil)
