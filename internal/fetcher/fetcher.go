package fetcher

import (
	"context"
	"log/slog"
	"strings"

	"papercast/internal/config"
	"papercast/internal/logging"
	"papercast/internal/queue"
	"papercast/internal/retry"
	"papercast/internal/services"
	"papercast/internal/services/arxiv"
	"papercast/internal/stage"
)

// Searcher is the slice of the arXiv client the fetcher needs.
type Searcher interface {
	Search(ctx context.Context, topic string, maxResults int) ([]arxiv.Entry, error)
}

// Fetcher pulls recent papers for each configured topic and enqueues the ones
// not seen before.
type Fetcher struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	client   Searcher
	executor *retry.Executor
	breaker  *retry.Breaker
}

// Result summarizes one fetch pass. Errored counts entries dropped because
// the store rejected them; the pass itself still completes.
type Result struct {
	Fetched int
	Skipped int
	Errored int
	Failed  []string
}

// NewFetcher constructs the fetcher using default dependencies.
func NewFetcher(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Fetcher {
	client := arxiv.NewClient(arxiv.Config{
		BaseURL:        cfg.Arxiv.BaseURL,
		TimeoutSeconds: cfg.Arxiv.TimeoutSeconds,
	})
	return NewFetcherWithDependencies(cfg, store, logger, client)
}

// NewFetcherWithDependencies allows injecting collaborators (used in tests).
func NewFetcherWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, client Searcher) *Fetcher {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "fetcher"))
	}
	return &Fetcher{
		cfg:    cfg,
		store:  store,
		logger: stageLogger,
		client: client,
		executor: retry.NewExecutor(
			retry.PolicyFromConfig(cfg.Retry),
			retry.WithLogger(stageLogger),
		),
		breaker: retry.NewBreaker("arxiv", cfg.Breaker),
	}
}

// FetchAll queries every configured topic and upserts unseen papers as
// fetched. A topic that fails after retries is recorded in the result and the
// remaining topics still run.
func (f *Fetcher) FetchAll(ctx context.Context) (Result, error) {
	logger := logging.WithContext(ctx, f.logger)
	result := Result{}
	seen := make(map[string]struct{})

	for _, topic := range f.cfg.Arxiv.Topics {
		entries, err := f.searchTopic(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Error("topic fetch failed",
				logging.String("topic", topic),
				logging.Error(err))
			result.Failed = append(result.Failed, topic)
			continue
		}

		for _, entry := range entries {
			if _, dup := seen[entry.ID]; dup {
				result.Skipped++
				continue
			}

			// Store errors are fatal to the entry, not the pass. The entry
			// stays out of seen so a duplicate under another topic can still
			// try.
			exists, err := f.store.Exists(ctx, entry.ID)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Errored++
				logger.Error("paper lookup failed",
					logging.String(logging.FieldPaperID, entry.ID),
					logging.String("topic", topic),
					logging.Error(err))
				continue
			}
			if exists {
				seen[entry.ID] = struct{}{}
				result.Skipped++
				continue
			}

			paper := paperFromEntry(topic, entry)
			if err := f.store.Upsert(ctx, paper); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Errored++
				logger.Error("paper enqueue failed",
					logging.String(logging.FieldPaperID, entry.ID),
					logging.String("topic", topic),
					logging.Error(err))
				continue
			}
			seen[entry.ID] = struct{}{}
			if err := f.store.AppendLog(ctx, queue.LogEntry{
				PaperID: paper.ID,
				Stage:   queue.StageFetch,
				Outcome: queue.OutcomeOK,
			}); err != nil {
				// The paper is persisted; a missing audit row is not worth
				// dropping it over.
				logger.Error("fetch audit append failed",
					logging.String(logging.FieldPaperID, paper.ID),
					logging.Error(err))
			}
			result.Fetched++
			logger.Info("paper fetched",
				logging.String(logging.FieldPaperID, paper.ID),
				logging.String("topic", topic),
				logging.String("title", paper.Title))
		}
	}

	logger.Info("fetch pass completed",
		logging.Int("fetched", result.Fetched),
		logging.Int("skipped", result.Skipped),
		logging.Int("errored", result.Errored),
		logging.Int("failed_topics", len(result.Failed)))
	return result, nil
}

func (f *Fetcher) searchTopic(ctx context.Context, topic string) ([]arxiv.Entry, error) {
	var entries []arxiv.Entry
	err := f.executor.Execute(ctx, "arxiv search "+topic, func(ctx context.Context) error {
		if err := f.breaker.Allow(); err != nil {
			return services.Wrap(services.ErrTransient, "fetcher", "search", "service suspended", err)
		}
		found, err := f.client.Search(ctx, topic, f.cfg.Arxiv.MaxPerTopic)
		f.breaker.Record(err)
		if err != nil {
			return err
		}
		entries = found
		return nil
	})
	return entries, err
}

// HealthCheck verifies the arXiv client configuration.
func (f *Fetcher) HealthCheck(ctx context.Context) stage.Health {
	if len(f.cfg.Arxiv.Topics) == 0 {
		return stage.Unhealthy("fetcher", "no topics configured")
	}
	return stage.Healthy("fetcher")
}

func paperFromEntry(topic string, entry arxiv.Entry) *queue.Paper {
	paper := &queue.Paper{
		ID:       entry.ID,
		Topic:    topic,
		URL:      entry.URL,
		Title:    entry.Title,
		Abstract: entry.Abstract,
		Authors:  entry.Authors,
		Status:   queue.StatusFetched,
	}
	if !entry.PublishedAt.IsZero() {
		paper.PublishedAt = entry.PublishedAt.Format("2006-01-02")
	}
	if strings.TrimSpace(paper.URL) == "" {
		paper.URL = "https://arxiv.org/abs/" + entry.ID
	}
	return paper
}
