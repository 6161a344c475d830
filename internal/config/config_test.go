package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	base := t.TempDir()
	cfg := Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.AudioDir = filepath.Join(base, "audio")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ExportPath = filepath.Join(base, "news.jsonl")
	cfg.Arxiv.Topics = []string{"large language model"}
	cfg.LLM.APIKey = "test-key"
	cfg.TTS.BaseURL = "http://127.0.0.1:9999/synthesize"
	return cfg
}

func TestDefaultValidatesWithKeyAndTopics(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := validConfig(t)
	cfg.LLM.APIKey = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestValidateRequiresTopics(t *testing.T) {
	cfg := validConfig(t)
	cfg.Arxiv.Topics = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected topics error")
	}
}

func TestValidateRejectsBadLanguageTag(t *testing.T) {
	cfg := validConfig(t)
	cfg.TTS.Language = "not a tag"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected language tag error")
	}
}

func TestValidateRetryBounds(t *testing.T) {
	cfg := validConfig(t)
	cfg.Retry.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected max_attempts error")
	}

	cfg = validConfig(t)
	cfg.Retry.BaseDelayMS = 5000
	cfg.Retry.MaxDelayMS = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected max_delay error")
	}
}

func TestNormalizeDeduplicatesTopics(t *testing.T) {
	cfg := validConfig(t)
	cfg.Arxiv.Topics = []string{"diffusion models", " Diffusion Models ", "", "agents"}
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(cfg.Arxiv.Topics) != 2 {
		t.Fatalf("expected 2 unique topics, got %v", cfg.Arxiv.Topics)
	}
	if cfg.Arxiv.Topics[0] != "diffusion models" || cfg.Arxiv.Topics[1] != "agents" {
		t.Fatalf("unexpected topics: %v", cfg.Arxiv.Topics)
	}
}

func TestNormalizeExpandsTilde(t *testing.T) {
	cfg := Default()
	cfg.Arxiv.Topics = []string{"x"}
	cfg.LLM.APIKey = "k"
	cfg.TTS.BaseURL = "http://localhost/synth"
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if !strings.HasPrefix(cfg.Paths.DataDir, home) {
		t.Fatalf("expected data dir under home, got %s", cfg.Paths.DataDir)
	}
}

func TestLoadReadsTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
audio_dir = "` + filepath.Join(dir, "audio") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
export_path = "` + filepath.Join(dir, "news.jsonl") + `"

[arxiv]
topics = ["quantum error correction"]
max_per_topic = 2

[llm]
api_key = "secret"

[tts]
base_url = "http://localhost:8080/synthesize"

[workers]
count = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved existing path %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Arxiv.MaxPerTopic != 2 || cfg.Workers.Count != 2 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.LLM.Model == "" {
		t.Fatal("defaults should fill unset fields")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[llm]\napi_key = \"k\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected validation failure without topics")
	}
}

func TestSampleConfigParses(t *testing.T) {
	if !strings.Contains(SampleConfig(), "[arxiv]") {
		t.Fatal("sample config missing arxiv section")
	}
}
