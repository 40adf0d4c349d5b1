package wiring

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/cache"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/config"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/metrics"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/realtime"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/storage"
)

// AppServices exposes the mutation gateway wired to its store and event sinks.
type AppServices struct {
	Config     *config.Config
	Logger     *zap.Logger
	Workspace  *Workspace
	Dispatcher *events.EventDispatcher
	Service    *application.MutationService
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Hub        *realtime.Hub
	// Cache is nil unless redis.addr is configured.
	Cache     *cache.ProgressCache
	Messaging *messaging.Registry
	// Journal is the audit trail kept next to the filesystem store, nil otherwise.
	Journal *storage.FileJournal
	// DeadLetters holds failed notifications for the filesystem store, nil otherwise.
	DeadLetters *messaging.DeadLetterStore
}

// DeadLetterFile is the dead letter log name inside the .milepost directory.
const DeadLetterFile = "deadletter.jsonl"

// Options override pieces of the default wiring, mainly for tests.
type Options struct {
	Dial messaging.Dialer
}

// BuildAppServices opens the configured store and registers every event sink.
func BuildAppServices(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*AppServices, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	workspace, err := OpenWorkspace(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	dispatcher := events.NewEventDispatcher(logger)
	dispatcher.RegisterWildcard("log", logHandler(logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	m.Register(dispatcher)

	hub := realtime.NewHub()
	hub.Register(dispatcher)

	services := &AppServices{
		Config:     cfg,
		Logger:     logger,
		Workspace:  workspace,
		Dispatcher: dispatcher,
		Registry:   registry,
		Metrics:    m,
		Hub:        hub,
	}

	if cfg.Redis.Addr != "" {
		client := cache.NewClient(cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		services.Cache = cache.NewProgressCache(client, cfg.Redis.TTL, logger)
		services.Cache.Register(dispatcher)
		if err := services.Cache.Ping(ctx); err != nil {
			// The cache is optional; reads fall through to the store.
			logger.Warn("redis unreachable, progress cache degraded", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	if fs := workspace.Filesystem(); fs != nil {
		journal, err := storage.NewFileJournal(filepath.Join(fs.Root(), storage.MilepostDir))
		if err != nil {
			workspace.Close()
			return nil, fmt.Errorf("open event journal: %w", err)
		}
		journal.Register(dispatcher)
		services.Journal = journal
	}

	msgs, err := messaging.NewRegistry(cfg.Adapters(), opts.Dial, logger)
	if err != nil {
		workspace.Close()
		return nil, err
	}
	if fs := workspace.Filesystem(); fs != nil {
		services.DeadLetters = messaging.NewDeadLetterStore(filepath.Join(fs.Root(), storage.MilepostDir, DeadLetterFile))
		msgs.SetDeadLetter(services.DeadLetters)
	}
	msgs.Register(dispatcher)
	services.Messaging = msgs

	services.Service = application.NewMutationService(workspace.Store, application.ServiceConfig{
		Mode:             application.CascadeMode(cfg.Cascade.Mode),
		PrimaryTimeout:   cfg.Cascade.PrimaryTimeout,
		FallbackAttempts: cfg.Cascade.FallbackAttempts,
	}, dispatcher, logger)

	return services, nil
}

// Close waits for async cascades and releases connections.
func (s *AppServices) Close() {
	s.Service.Wait()
	s.Messaging.Close()
	s.Workspace.Close()
	_ = s.Logger.Sync()
}

func logHandler(logger *zap.Logger) events.EventHandlerFunc {
	return func(_ context.Context, event events.DomainEvent) error {
		logger.Debug("event",
			zap.String("event_type", event.EventType()),
			zap.String("aggregate_type", event.AggregateType()),
			zap.String("aggregate_id", event.AggregateID()),
		)
		return nil
	}
}
