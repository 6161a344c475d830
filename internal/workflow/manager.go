package workflow

import (
	"context"
	"log/slog"

	"papercast/internal/config"
	"papercast/internal/exporter"
	"papercast/internal/fetcher"
	"papercast/internal/logging"
	"papercast/internal/narrator"
	"papercast/internal/processor"
	"papercast/internal/queue"
	"papercast/internal/stage"
)

// FetchService seeds the queue with new papers at the start of a run.
type FetchService interface {
	FetchAll(ctx context.Context) (fetcher.Result, error)
	HealthCheck(ctx context.Context) stage.Health
}

// ExportService finalizes the run by rewriting the feed.
type ExportService interface {
	ExportAll(ctx context.Context) (exporter.Result, error)
	HealthCheck(ctx context.Context) stage.Health
}

// Manager drives one pipeline run: fetch, per-paper stages across a worker
// pool, then export.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	fetcher  FetchService
	handlers map[queue.Stage]stage.Handler
	exporter ExportService
}

// Summary reports the outcome of a completed run.
type Summary struct {
	Fetched      int
	Skipped      int
	FailedTopics []string
	Exported     int
	FeedLines    int
	FeedPath     string
	Counts       map[queue.Status]int
	Failures     []Failure
}

// Failure describes one paper that ended the run in the failed state.
type Failure struct {
	PaperID   string
	LastError string
}

// NewManager constructs the manager with the default stage handlers.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithDependencies(
		cfg, store, logger,
		fetcher.NewFetcher(cfg, store, logger),
		processor.NewProcessor(cfg, store, logger),
		narrator.NewNarrator(cfg, store, logger),
		exporter.NewExporter(cfg, store, logger),
	)
}

// NewManagerWithDependencies allows injecting collaborators (used in tests).
func NewManagerWithDependencies(
	cfg *config.Config,
	store *queue.Store,
	logger *slog.Logger,
	fetchSvc FetchService,
	processHandler stage.Handler,
	narrateHandler stage.Handler,
	exportSvc ExportService,
) *Manager {
	managerLogger := logger
	if managerLogger != nil {
		managerLogger = managerLogger.With(logging.String(logging.FieldComponent, "workflow"))
	} else {
		managerLogger = logging.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		logger:  managerLogger,
		fetcher: fetchSvc,
		handlers: map[queue.Stage]stage.Handler{
			queue.StageProcess: processHandler,
			queue.StageNarrate: narrateHandler,
		},
		exporter: exportSvc,
	}
}

// Health reports the readiness of every stage in pipeline order.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	checks := []stage.Health{m.fetcher.HealthCheck(ctx)}
	for _, s := range []queue.Stage{queue.StageProcess, queue.StageNarrate} {
		if handler, ok := m.handlers[s]; ok && handler != nil {
			checks = append(checks, handler.HealthCheck(ctx))
		}
	}
	checks = append(checks, m.exporter.HealthCheck(ctx))
	return checks
}
