package processor

import (
	"context"
	"log/slog"
	"strings"

	"papercast/internal/config"
	"papercast/internal/logging"
	"papercast/internal/queue"
	"papercast/internal/retry"
	"papercast/internal/services"
	"papercast/internal/services/llm"
	"papercast/internal/stage"
)

// Translator is the slice of the LLM client the processor needs.
type Translator interface {
	Translate(ctx context.Context, input llm.PaperInput) (llm.Translation, error)
	HealthCheck(ctx context.Context) error
}

// Processor translates and summarizes fetched papers.
type Processor struct {
	cfg     *config.Config
	store   *queue.Store
	logger  *slog.Logger
	client  Translator
	breaker *retry.Breaker
}

// NewProcessor constructs the processor stage handler using default dependencies.
func NewProcessor(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Processor {
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	return NewProcessorWithDependencies(cfg, store, logger, client)
}

// NewProcessorWithDependencies allows injecting collaborators (used in tests).
func NewProcessorWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, client Translator) *Processor {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "processor"))
	}
	return &Processor{
		cfg:     cfg,
		store:   store,
		logger:  stageLogger,
		client:  client,
		breaker: retry.NewBreaker("llm", cfg.Breaker),
	}
}

func (p *Processor) Prepare(ctx context.Context, paper *queue.Paper) error {
	logger := logging.WithContext(ctx, p.logger)
	if strings.TrimSpace(paper.Title) == "" || strings.TrimSpace(paper.Abstract) == "" {
		return services.Wrap(services.ErrPermanent, "processor", "validate inputs",
			"paper is missing title or abstract; refetch before processing", nil)
	}
	paper.LastError = ""
	logger.Info("starting translation", logging.String("title", paper.Title))
	return nil
}

func (p *Processor) Execute(ctx context.Context, paper *queue.Paper) error {
	logger := logging.WithContext(ctx, p.logger)

	executor := retry.NewExecutor(
		retry.PolicyFromConfig(p.cfg.Retry),
		retry.WithLogger(p.logger),
		retry.WithObserver(stage.AttemptRecorder(ctx, p.store, paper, queue.StageProcess)),
	)

	var translation llm.Translation
	err := executor.Execute(ctx, "llm translate", func(ctx context.Context) error {
		if err := p.breaker.Allow(); err != nil {
			return services.Wrap(services.ErrTransient, "processor", "translate", "service suspended", err)
		}
		result, callErr := p.client.Translate(ctx, llm.PaperInput{
			Title:    paper.Title,
			Abstract: paper.Abstract,
			Authors:  paper.Authors,
		})
		p.breaker.Record(callErr)
		if callErr != nil {
			return callErr
		}
		translation = result
		return nil
	})
	if err != nil {
		return err
	}

	paper.TitleZH = translation.TitleZH
	paper.SummaryZH = translation.SummaryZH
	paper.Applications = translation.Applications
	paper.Pitch = translation.Pitch
	paper.Status = queue.StatusProcessed

	logger.Info("translation completed",
		logging.String("title_zh", paper.TitleZH),
		logging.Int("applications", len(paper.Applications)))
	return nil
}

func (p *Processor) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(p.cfg.LLM.APIKey) == "" {
		return stage.Unhealthy("processor", "llm api key missing")
	}
	if err := p.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("processor", err.Error())
	}
	return stage.Healthy("processor")
}
