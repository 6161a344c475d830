package stage

import (
	"context"

	"papercast/internal/queue"
	"papercast/internal/retry"
)

// AttemptRecorder returns a retry observer that appends one audit row per
// executor attempt and tracks the paper's cumulative attempt count. A clean
// first-attempt success is the baseline and leaves the counter untouched;
// failed attempts and retry successes are counted.
func AttemptRecorder(ctx context.Context, store *queue.Store, paper *queue.Paper, s queue.Stage) retry.AttemptObserver {
	return func(attempt int, err error) {
		if err != nil || attempt > 1 {
			paper.AttemptCount++
		}
		entry := queue.LogEntry{
			PaperID: paper.ID,
			Stage:   s,
			Outcome: queue.OutcomeOK,
		}
		if err != nil {
			entry.Outcome = queue.OutcomeError
			entry.Message = err.Error()
		}
		_ = store.AppendLog(ctx, entry)
	}
}
