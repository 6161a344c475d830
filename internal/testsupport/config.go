package testsupport

import (
	"path/filepath"
	"testing"

	"papercast/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.LLM.APIKey = "test"
	cfgVal.TTS.APIKey = "test"
	cfgVal.TTS.BaseURL = "https://tts.invalid/synthesize"
	cfgVal.Arxiv.Topics = []string{"cs.CL"}
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.AudioDir = filepath.Join(base, "audio")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ExportPath = filepath.Join(base, "export", "papers.jsonl")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTopics overrides the arXiv topics on the test config.
func WithTopics(topics ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Arxiv.Topics = topics
	}
}

// WithWorkers overrides the worker pool width on the test config.
func WithWorkers(count int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.Count = count
	}
}

// WithIncludeFailed toggles exporting failed papers on the test config.
func WithIncludeFailed(include bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Export.IncludeFailed = include
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
