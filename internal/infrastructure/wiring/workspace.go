package wiring

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/config"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
	"github.com/felixgeelhaar/milepost/pkg/storage"
	"github.com/felixgeelhaar/milepost/pkg/storage/postgres"
	"github.com/felixgeelhaar/milepost/pkg/storage/sqlite"
)

// Workspace bundles the opened store with the handle needed to close it.
type Workspace struct {
	Driver string
	Store  progress.Store
	close  func()
}

// Close releases the store's connections.
func (w *Workspace) Close() {
	if w.close != nil {
		w.close()
	}
}

// Filesystem returns the JSON snapshot store, or nil for other drivers.
func (w *Workspace) Filesystem() *storage.FilesystemStore {
	fs, _ := w.Store.(*storage.FilesystemStore)
	return fs
}

// OpenWorkspace opens the store selected by cfg. Database stores are migrated
// before they are returned.
func OpenWorkspace(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverMemory:
		return &Workspace{Driver: cfg.Driver, Store: storage.NewMemoryStore()}, nil

	case config.DriverFilesystem:
		root, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid storage path %q: %w", cfg.Path, err)
		}
		store, err := storage.NewFilesystemStore(root)
		if err != nil {
			return nil, err
		}
		logger.Debug("filesystem store opened", zap.String("path", store.Path()))
		return &Workspace{Driver: cfg.Driver, Store: store}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return &Workspace{Driver: cfg.Driver, Store: store, close: func() { _ = store.Close() }}, nil

	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return &Workspace{Driver: cfg.Driver, Store: store, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
