package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"papercast/internal/config"
	"papercast/internal/queue"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Arxiv.Topics = []string{"cs.CL"}
	cfgVal.LLM.APIKey = "test"
	cfgVal.TTS.APIKey = "test"
	cfgVal.TTS.BaseURL = "https://tts.invalid/synthesize"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.AudioDir = filepath.Join(base, "audio")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ExportPath = filepath.Join(base, "export", "papers.jsonl")
	cfg := &cfgVal

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		configPath: configPath,
		baseDir:    base,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
audio_dir = %q
log_dir = %q
export_path = %q

[arxiv]
topics = [%q]

[llm]
api_key = %q

[tts]
api_key = %q
base_url = %q
`,
		cfg.Paths.DataDir,
		cfg.Paths.AudioDir,
		cfg.Paths.LogDir,
		cfg.Paths.ExportPath,
		cfg.Arxiv.Topics[0],
		cfg.LLM.APIKey,
		cfg.TTS.APIKey,
		cfg.TTS.BaseURL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedPaper(t *testing.T, env *cliTestEnv, id string, status queue.Status) *queue.Paper {
	t.Helper()
	ctx := context.Background()
	paper := &queue.Paper{
		ID:       id,
		Topic:    "cs.CL",
		URL:      "https://arxiv.org/abs/" + id,
		Title:    "Paper " + id,
		Abstract: "Abstract for " + id,
		Authors:  []string{"Ada Lovelace"},
		Status:   queue.StatusFetched,
	}
	if err := env.store.Upsert(ctx, paper); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if status != queue.StatusFetched {
		paper.Status = status
		if status == queue.StatusFailed {
			paper.LastError = "translate: boom"
		}
		if err := env.store.Update(ctx, paper); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	return paper
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got %q", needle, haystack)
	}
}

func TestCLIQueueCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	seedPaper(t, env, "2601.00500", queue.StatusFetched)
	failed := seedPaper(t, env, "2601.00501", queue.StatusFailed)

	out, _, err := runCLI(t, []string{"queue", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	requireContains(t, out, "fetched")
	requireContains(t, out, "failed")

	out, _, err = runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "2601.00500")
	requireContains(t, out, "2601.00501")

	out, _, err = runCLI(t, []string{"queue", "list", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list --status: %v", err)
	}
	requireContains(t, out, "2601.00501")
	if strings.Contains(out, "2601.00500") {
		t.Fatalf("status filter leaked other papers: %q", out)
	}

	out, _, err = runCLI(t, []string{"queue", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Reset 1 failed papers")
	updated, err := env.store.GetByID(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetByID after retry: %v", err)
	}
	if updated.Status != queue.StatusFetched {
		t.Fatalf("expected retried paper back to fetched, got %s", updated.Status)
	}

	updated.SetFailed("translate: boom again")
	if err := env.store.Update(ctx, updated); err != nil {
		t.Fatalf("reset failed status: %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear --failed: %v", err)
	}
	requireContains(t, out, "Cleared 1 failed papers")

	out, _, err = runCLI(t, []string{"queue", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Cleared")

	out, _, err = runCLI(t, []string{"queue", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("queue stats after clear: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestCLIQueueRetryByID(t *testing.T) {
	env := setupCLITestEnv(t)

	seedPaper(t, env, "2601.00510", queue.StatusFetched)
	seedPaper(t, env, "2601.00511", queue.StatusFailed)

	out, _, err := runCLI(t, []string{"queue", "retry", "2601.00511", "2601.00510", "2601.09999"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry by id: %v", err)
	}
	requireContains(t, out, "Paper 2601.00511 reset for retry")
	requireContains(t, out, "Paper 2601.00510 is not in failed state")
	requireContains(t, out, "Paper 2601.09999 not found")
}

func TestCLIQueueLogs(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	paper := seedPaper(t, env, "2601.00520", queue.StatusFetched)
	if err := env.store.AppendLog(ctx, queue.LogEntry{
		PaperID: paper.ID,
		Stage:   queue.StageProcess,
		Outcome: queue.OutcomeError,
		Message: "rate limited",
	}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "logs", paper.ID}, env.configPath)
	if err != nil {
		t.Fatalf("queue logs: %v", err)
	}
	requireContains(t, out, "process")
	requireContains(t, out, "rate limited")

	_, _, err = runCLI(t, []string{"queue", "logs", "2601.09999"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown paper")
	}
}

func TestCLIExportCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	paper := seedPaper(t, env, "2601.00530", queue.StatusFetched)
	paper.TitleZH = "標題"
	paper.SummaryZH = "摘要"
	paper.Applications = []string{"一", "二", "三"}
	paper.Pitch = "推銷"
	paper.AudioPath = filepath.Join(env.cfg.Paths.AudioDir, paper.ID+".mp3")
	paper.Status = queue.StatusNarrated
	if err := env.store.Update(ctx, paper); err != nil {
		t.Fatalf("Update: %v", err)
	}

	out, _, err := runCLI(t, []string{"export"}, env.configPath)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	requireContains(t, out, "1 newly exported")

	data, err := os.ReadFile(env.cfg.Paths.ExportPath)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	requireContains(t, string(data), paper.ID)
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "<redacted>")
	requireContains(t, out, env.cfg.Paths.DataDir)
	if strings.Contains(out, "api_key = 'test'") || strings.Contains(out, `api_key = "test"`) {
		t.Fatalf("expected api keys redacted, got %q", out)
	}
}
