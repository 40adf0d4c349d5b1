package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent represents a filesystem change.
type ChangeEvent struct {
	Path       string
	ChangeType string // "create", "write", "remove", "rename"
}

// ChangeHandler receives every change collected during one debounce window.
type ChangeHandler func(ctx context.Context, changes []ChangeEvent) error

// StoreWatcher watches the store snapshot and reports edits made by other
// processes or by hand.
type StoreWatcher struct {
	watcher  *fsnotify.Watcher
	store    string
	debounce time.Duration
	onChange ChangeHandler
	logger   *zap.Logger
}

// NewStoreWatcher creates a watcher for the snapshot at storePath.
func NewStoreWatcher(storePath string, debounce time.Duration, onChange ChangeHandler, logger *zap.Logger) (*StoreWatcher, error) {
	dir := filepath.Dir(storePath)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// The store file is replaced by rename, so watch the directory, not the file.
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreWatcher{
		watcher:  w,
		store:    filepath.Base(storePath),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run starts the event loop. It blocks until the context is cancelled.
// Handler errors are logged and do not stop the loop.
func (w *StoreWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	batcher := NewBatcher(w.debounce, func(changes []ChangeEvent) {
		if w.onChange == nil {
			return
		}
		if err := w.onChange(ctx, changes); err != nil {
			w.logger.Warn("change handler failed", zap.Int("changes", len(changes)), zap.Error(err))
		}
	})
	defer batcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			changeType := opToChangeType(event.Op)
			if changeType == "" || !w.isStore(event.Name) {
				continue
			}
			w.logger.Debug("store file changed", zap.String("path", filepath.Base(event.Name)), zap.String("op", changeType))
			batcher.Add(ChangeEvent{Path: event.Name, ChangeType: changeType})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// isStore reports whether name is the snapshot itself. The temp file of an
// atomic replace has its own name and shows up as a create of the snapshot
// once renamed.
func (w *StoreWatcher) isStore(name string) bool {
	return filepath.Base(name) == w.store
}

func opToChangeType(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
