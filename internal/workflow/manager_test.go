package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"papercast/internal/config"
	"papercast/internal/exporter"
	"papercast/internal/fetcher"
	"papercast/internal/narrator"
	"papercast/internal/processor"
	"papercast/internal/queue"
	"papercast/internal/services"
	"papercast/internal/services/arxiv"
	"papercast/internal/services/llm"
	"papercast/internal/testsupport"
	"papercast/internal/workflow"
)

type scriptedSearcher struct {
	entries []arxiv.Entry
}

func (s *scriptedSearcher) Search(ctx context.Context, topic string, maxResults int) ([]arxiv.Entry, error) {
	return s.entries, nil
}

// scriptedTranslator fails a configured number of times per paper id before
// succeeding.
type scriptedTranslator struct {
	mu        sync.Mutex
	failures  map[string]int
	permanent map[string]bool
	calls     map[string]int
}

func (s *scriptedTranslator) Translate(ctx context.Context, input llm.PaperInput) (llm.Translation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[input.Title]++
	if s.permanent[input.Title] {
		return llm.Translation{}, services.Wrap(services.ErrPermanent, "llm", "translate", "content policy", nil)
	}
	if s.failures[input.Title] > 0 {
		s.failures[input.Title]--
		return llm.Translation{}, services.Wrap(services.ErrTransient, "llm", "translate", "rate limited", nil)
	}
	return llm.Translation{
		TitleZH:      "譯 " + input.Title,
		SummaryZH:    "摘要 " + input.Title,
		Applications: []string{"一", "二", "三"},
		Pitch:        "推銷 " + input.Title,
	}, nil
}

func (s *scriptedTranslator) HealthCheck(ctx context.Context) error { return nil }

type scriptedSynthesizer struct {
	mu       sync.Mutex
	failures map[string]int
	calls    int
}

func (s *scriptedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for key, remaining := range s.failures {
		if remaining > 0 && strings.Contains(text, key) {
			s.failures[key]--
			return nil, services.Wrap(services.ErrTransient, "tts", "synthesize", "unavailable", nil)
		}
	}
	return []byte("audio " + text), nil
}

func (s *scriptedSynthesizer) HealthCheck(ctx context.Context) error { return nil }

func entryFor(id, title string) arxiv.Entry {
	return arxiv.Entry{
		ID:       id,
		URL:      "https://arxiv.org/abs/" + id,
		Title:    title,
		Abstract: "Abstract for " + title,
		Authors:  []string{"Ada Lovelace"},
	}
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Retry.BaseDelayMS = 1
	return cfg
}

func newManager(
	t *testing.T,
	cfg *config.Config,
	searcher fetcher.Searcher,
	translator processor.Translator,
	synthesizer narrator.Synthesizer,
) (*workflow.Manager, *queue.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	manager := workflow.NewManagerWithDependencies(
		cfg, store, nil,
		fetcher.NewFetcherWithDependencies(cfg, store, nil, searcher),
		processor.NewProcessorWithDependencies(cfg, store, nil, translator),
		narrator.NewNarratorWithDependencies(cfg, store, nil, synthesizer),
		exporter.NewExporter(cfg, store, nil),
	)
	return manager, store
}

func TestRunProcessesFetchedPapersEndToEnd(t *testing.T) {
	cfg := newTestConfig(t)
	searcher := &scriptedSearcher{entries: []arxiv.Entry{
		entryFor("2601.00400", "Paper A"),
		entryFor("2601.00401", "Paper B"),
	}}
	// Paper B's translation fails twice with transient errors, then succeeds.
	translator := &scriptedTranslator{failures: map[string]int{"Paper B": 2}}
	synth := &scriptedSynthesizer{}

	manager, store := newManager(t, cfg, searcher, translator, synth)

	summary, err := manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 2 {
		t.Fatalf("expected 2 fetched, got %d", summary.Fetched)
	}
	if summary.Exported != 2 {
		t.Fatalf("expected 2 exported, got %d", summary.Exported)
	}
	if len(summary.Failures) != 0 {
		t.Fatalf("expected no failures, got %#v", summary.Failures)
	}

	ctx := context.Background()
	b, err := store.GetByID(ctx, "2601.00401")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if b.Status != queue.StatusExported {
		t.Fatalf("expected B exported, got %s", b.Status)
	}
	if b.AttemptCount != 3 {
		t.Fatalf("expected B attempt count 3 (2 errors + retry success), got %d", b.AttemptCount)
	}

	logs, err := store.LogsForPaper(ctx, b.ID)
	if err != nil {
		t.Fatalf("LogsForPaper: %v", err)
	}
	var processErrors, processOK int
	for _, entry := range logs {
		if entry.Stage != queue.StageProcess {
			continue
		}
		switch entry.Outcome {
		case queue.OutcomeError:
			processErrors++
		case queue.OutcomeOK:
			processOK++
		}
	}
	if processErrors != 2 || processOK != 1 {
		t.Fatalf("expected 2 error + 1 ok process logs for B, got %d errors, %d ok", processErrors, processOK)
	}

	// Feed written with both papers.
	data, err := os.ReadFile(cfg.Paths.ExportPath)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty feed")
	}
}

func TestRunIsolatesPermanentFailures(t *testing.T) {
	cfg := newTestConfig(t)
	searcher := &scriptedSearcher{entries: []arxiv.Entry{
		entryFor("2601.00410", "Good Paper"),
		entryFor("2601.00411", "Refused Paper"),
	}}
	translator := &scriptedTranslator{permanent: map[string]bool{"Refused Paper": true}}
	manager, store := newManager(t, cfg, searcher, translator, &scriptedSynthesizer{})

	summary, err := manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Exported != 1 {
		t.Fatalf("expected good paper exported, got %d", summary.Exported)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].PaperID != "2601.00411" {
		t.Fatalf("expected refused paper in failures, got %#v", summary.Failures)
	}
	if summary.Failures[0].LastError == "" {
		t.Fatal("expected failure message recorded")
	}
	if translator.calls["Refused Paper"] != 1 {
		t.Fatalf("expected single call for permanent failure, got %d", translator.calls["Refused Paper"])
	}

	failed, err := store.GetByID(context.Background(), "2601.00411")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
}

func TestRunResumesFailedPaperFromLastGoodStage(t *testing.T) {
	cfg := newTestConfig(t)

	// First run: narration for the paper is down long enough to exhaust the
	// retry budget.
	searcher := &scriptedSearcher{entries: []arxiv.Entry{entryFor("2601.00420", "Resumable Paper")}}
	translator := &scriptedTranslator{}
	synth := &scriptedSynthesizer{failures: map[string]int{"Resumable Paper": 10}}
	manager, store := newManager(t, cfg, searcher, translator, synth)

	summary, err := manager.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(summary.Failures) != 1 {
		t.Fatalf("expected narration failure, got %#v", summary)
	}

	ctx := context.Background()
	paper, err := store.GetByID(ctx, "2601.00420")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if paper.Status != queue.StatusFailed || !paper.Translated() {
		t.Fatalf("expected failed paper with surviving translation, got %#v", paper)
	}
	firstRunTranslateCalls := translator.calls["Resumable Paper"]

	// Second run: the TTS service recovered. The paper resumes at narration
	// without re-invoking the translator.
	synth.mu.Lock()
	synth.failures = nil
	synth.mu.Unlock()

	summary, err = manager.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Exported != 1 {
		t.Fatalf("expected paper exported on resume, got %+v", summary)
	}
	if translator.calls["Resumable Paper"] != firstRunTranslateCalls {
		t.Fatalf("expected no additional translate calls on resume, got %d (was %d)",
			translator.calls["Resumable Paper"], firstRunTranslateCalls)
	}

	paper, err = store.GetByID(ctx, "2601.00420")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if paper.Status != queue.StatusExported || !paper.Narrated() {
		t.Fatalf("expected exported paper with audio, got %#v", paper)
	}
}

func TestRunExportsPaperThatFailedAfterNarration(t *testing.T) {
	cfg := newTestConfig(t)
	searcher := &scriptedSearcher{}
	translator := &scriptedTranslator{}
	synth := &scriptedSynthesizer{}
	manager, store := newManager(t, cfg, searcher, translator, synth)

	// A prior run completed every artifact but failed persisting the final
	// narrate transition, leaving the row failed with the audio in place.
	ctx := context.Background()
	paper := &queue.Paper{
		ID:       "2601.00460",
		Topic:    "cs.CL",
		URL:      "https://arxiv.org/abs/2601.00460",
		Title:    "Stranded Paper",
		Abstract: "Abstract for Stranded Paper",
		Status:   queue.StatusFetched,
	}
	if err := store.Upsert(ctx, paper); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	paper.TitleZH = "譯 Stranded Paper"
	paper.SummaryZH = "摘要 Stranded Paper"
	paper.Applications = []string{"一", "二", "三"}
	paper.Pitch = "推銷 Stranded Paper"
	paper.AudioPath = filepath.Join(cfg.Paths.AudioDir, paper.ID+".mp3")
	paper.SetFailed("persist stage result: disk full")
	if err := store.Update(ctx, paper); err != nil {
		t.Fatalf("Update: %v", err)
	}

	summary, err := manager.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Exported != 1 {
		t.Fatalf("expected stranded paper exported, got %+v", summary)
	}
	if len(summary.Failures) != 0 {
		t.Fatalf("expected no failures, got %#v", summary.Failures)
	}
	if translator.calls["Stranded Paper"] != 0 || synth.calls != 0 {
		t.Fatalf("expected no stage re-runs, got translate=%d synth=%d",
			translator.calls["Stranded Paper"], synth.calls)
	}

	exported, err := store.GetByID(ctx, paper.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if exported.Status != queue.StatusExported {
		t.Fatalf("expected exported status, got %s", exported.Status)
	}
	if exported.LastError != "" {
		t.Fatalf("expected stale error cleared, got %q", exported.LastError)
	}
}

func TestRunExportsRetriedPaperWithCompleteArtifacts(t *testing.T) {
	cfg := newTestConfig(t)
	manager, store := newManager(t, cfg, &scriptedSearcher{}, &scriptedTranslator{}, &scriptedSynthesizer{})

	ctx := context.Background()
	paper := &queue.Paper{
		ID:     "2601.00461",
		Topic:  "cs.CL",
		URL:    "https://arxiv.org/abs/2601.00461",
		Title:  "Retried Paper",
		Status: queue.StatusFetched,
	}
	if err := store.Upsert(ctx, paper); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	paper.TitleZH = "譯 Retried Paper"
	paper.SummaryZH = "摘要 Retried Paper"
	paper.AudioPath = filepath.Join(cfg.Paths.AudioDir, paper.ID+".mp3")
	paper.SetFailed("persist stage result: disk full")
	if err := store.Update(ctx, paper); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// queue retry puts failed papers back to fetched; the artifacts survive.
	if _, err := store.RetryFailed(ctx); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}

	summary, err := manager.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Exported != 1 {
		t.Fatalf("expected retried paper exported, got %+v", summary)
	}
}

func TestRunSecondFetchIsNoOp(t *testing.T) {
	cfg := newTestConfig(t)
	searcher := &scriptedSearcher{entries: []arxiv.Entry{entryFor("2601.00430", "Stable Paper")}}
	manager, _ := newManager(t, cfg, searcher, &scriptedTranslator{}, &scriptedSynthesizer{})

	ctx := context.Background()
	if _, err := manager.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	summary, err := manager.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Fetched != 0 || summary.Skipped != 1 {
		t.Fatalf("expected second fetch to be a no-op, got %+v", summary)
	}
	if summary.Exported != 0 {
		t.Fatalf("expected nothing newly exported, got %d", summary.Exported)
	}
}

func TestRunFailsPreflightOnMissingCredentials(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.LLM.APIKey = ""

	searcher := &scriptedSearcher{entries: []arxiv.Entry{entryFor("2601.00450", "Unreachable Paper")}}
	manager, store := newManager(t, cfg, searcher, &scriptedTranslator{}, &scriptedSynthesizer{})

	if _, err := manager.Run(context.Background()); err == nil {
		t.Fatal("expected preflight error for missing llm api key")
	}

	// Preflight failures abort before any fetch happens.
	papers, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(papers) != 0 {
		t.Fatalf("expected no papers fetched, got %d", len(papers))
	}
}

func TestRunWithManyPapersAndWorkers(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Workers.Count = 4

	var entries []arxiv.Entry
	ids := []string{
		"2601.00440", "2601.00441", "2601.00442", "2601.00443",
		"2601.00444", "2601.00445", "2601.00446", "2601.00447",
	}
	for i, id := range ids {
		entries = append(entries, entryFor(id, fmt.Sprintf("Bulk Paper %d", i)))
	}
	searcher := &scriptedSearcher{entries: entries}
	manager, store := newManager(t, cfg, searcher, &scriptedTranslator{}, &scriptedSynthesizer{})

	summary, err := manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Exported != len(ids) {
		t.Fatalf("expected %d exported, got %d", len(ids), summary.Exported)
	}

	papers, err := store.ItemsByStatus(context.Background(), queue.StatusExported)
	if err != nil {
		t.Fatalf("ItemsByStatus: %v", err)
	}
	if len(papers) != len(ids) {
		t.Fatalf("expected all papers exported, got %d", len(papers))
	}
}
