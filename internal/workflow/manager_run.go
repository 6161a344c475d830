package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"papercast/internal/logging"
	"papercast/internal/queue"
	"papercast/internal/services"
)

// Run executes one full pipeline pass. Stage errors are contained per paper;
// only run-level problems (preflight, store access) surface as an error.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	ctx = services.WithRequestID(ctx, runID)
	logger := logging.WithContext(ctx, m.logger)

	summary := Summary{Counts: make(map[queue.Status]int)}

	if err := m.preflight(ctx); err != nil {
		return summary, err
	}

	runStart := time.Now()
	logger.Info("run started", logging.Int("workers", m.cfg.Workers.Count))

	fetchResult, err := m.fetcher.FetchAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("fetch papers: %w", err)
	}
	summary.Fetched = fetchResult.Fetched
	summary.Skipped = fetchResult.Skipped
	summary.FailedTopics = fetchResult.Failed

	// Failed papers from earlier runs re-enter here and resume from their
	// last good stage.
	pending, err := m.store.ListPending(ctx, true)
	if err != nil {
		return summary, fmt.Errorf("list pending papers: %w", err)
	}

	m.processPool(ctx, pending)

	if ctx.Err() == nil {
		exportResult, exportErr := m.exporter.ExportAll(ctx)
		if exportErr != nil {
			return summary, fmt.Errorf("export feed: %w", exportErr)
		}
		summary.Exported = exportResult.Exported
		summary.FeedLines = exportResult.Lines
		summary.FeedPath = exportResult.Path
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		return summary, fmt.Errorf("collect stats: %w", err)
	}
	summary.Counts = stats

	failed, err := m.store.ItemsByStatus(ctx, queue.StatusFailed)
	if err != nil {
		return summary, fmt.Errorf("collect failures: %w", err)
	}
	for _, paper := range failed {
		summary.Failures = append(summary.Failures, Failure{
			PaperID:   paper.ID,
			LastError: paper.LastError,
		})
	}

	logger.Info("run completed",
		logging.Int("fetched", summary.Fetched),
		logging.Int("exported", summary.Exported),
		logging.Int("failed", len(summary.Failures)),
		logging.Duration("run_duration", time.Since(runStart)))
	return summary, ctx.Err()
}

func (m *Manager) preflight(ctx context.Context) error {
	var notReady []string
	for _, health := range m.Health(ctx) {
		if !health.Ready {
			notReady = append(notReady, fmt.Sprintf("%s: %s", health.Name, health.Detail))
		}
	}
	if len(notReady) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(notReady, "; "))
	}
	return nil
}

// processPool drains the pending papers through a bounded worker pool. Each
// paper is owned by exactly one worker, which runs its remaining stages in
// order.
func (m *Manager) processPool(ctx context.Context, pending []*queue.Paper) {
	if len(pending) == 0 {
		return
	}
	width := m.cfg.Workers.Count
	if width <= 0 {
		width = 1
	}
	if width > len(pending) {
		width = len(pending)
	}

	jobs := make(chan *queue.Paper)
	var wg sync.WaitGroup
	wg.Add(width)
	for i := 0; i < width; i++ {
		go func() {
			defer wg.Done()
			for paper := range jobs {
				m.processPaper(ctx, paper)
			}
		}()
	}

	for _, paper := range pending {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- paper:
		}
	}
	close(jobs)
	wg.Wait()
}

// processPaper drives one paper through its remaining stages. Stage errors
// mark the paper failed and never escape.
func (m *Manager) processPaper(ctx context.Context, paper *queue.Paper) {
	paperCtx := services.WithPaperID(ctx, paper.ID)

	for {
		if ctx.Err() != nil {
			return
		}
		next, ok := paper.NextStage()
		if !ok {
			return
		}
		if next == queue.StageExport {
			// Export is run-level. A paper can arrive here with a stale
			// status when a prior run failed after narration succeeded, or
			// when a retry reset it to fetched. Restore narrated so the
			// exporter picks it up.
			if paper.Status != queue.StatusNarrated {
				paper.Status = queue.StatusNarrated
				paper.LastError = ""
				if err := m.store.Update(paperCtx, paper); err != nil {
					m.failPaper(paperCtx, paper, next, fmt.Errorf("restore narrated status: %w", err))
				}
			}
			return
		}
		handler, configured := m.handlers[next]
		if !configured || handler == nil {
			m.failPaper(paperCtx, paper, next, errors.New("no handler configured for stage"))
			return
		}

		stageCtx := services.WithStage(paperCtx, string(next))
		stageLogger := logging.WithContext(stageCtx, m.logger)
		stageStart := time.Now()
		stageLogger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

		if err := handler.Prepare(stageCtx, paper); err != nil {
			m.recordPrepareFailure(stageCtx, paper, next, err)
			m.failPaper(stageCtx, paper, next, err)
			return
		}
		if err := m.store.Update(stageCtx, paper); err != nil {
			m.failPaper(stageCtx, paper, next, fmt.Errorf("persist stage preparation: %w", err))
			return
		}

		execErr := handler.Execute(stageCtx, paper)
		if execErr != nil {
			if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
				stageLogger.Debug("stage interrupted by shutdown")
				if err := m.store.Update(stageCtx, paper); err != nil {
					stageLogger.Error("failed to persist interrupted stage", logging.Error(err))
				}
				return
			}
			m.failPaper(stageCtx, paper, next, execErr)
			return
		}

		if err := m.store.Update(stageCtx, paper); err != nil {
			m.failPaper(stageCtx, paper, next, fmt.Errorf("persist stage result: %w", err))
			return
		}
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String("next_status", string(paper.Status)),
			logging.Duration("stage_duration", time.Since(stageStart)))
	}
}

// failPaper records a stage failure on the paper and persists it. Storage
// errors here are logged and swallowed so the run continues.
func (m *Manager) failPaper(ctx context.Context, paper *queue.Paper, s queue.Stage, stageErr error) {
	logger := logging.WithContext(ctx, m.logger)
	message := strings.TrimSpace(stageErr.Error())
	paper.SetFailed(message)

	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldStage, string(s)),
		logging.Error(stageErr))

	if err := m.store.Update(ctx, paper); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("run shutting down, could not persist stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}
}

// recordPrepareFailure appends an audit row for failures that happen before
// the retry executor runs (and therefore produced no attempt rows).
func (m *Manager) recordPrepareFailure(ctx context.Context, paper *queue.Paper, s queue.Stage, err error) {
	logEntry := queue.LogEntry{
		PaperID: paper.ID,
		Stage:   s,
		Outcome: queue.OutcomeError,
		Message: err.Error(),
	}
	if appendErr := m.store.AppendLog(ctx, logEntry); appendErr != nil {
		logging.WithContext(ctx, m.logger).Error("failed to append prepare failure log", logging.Error(appendErr))
	}
}
