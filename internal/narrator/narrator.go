package narrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"papercast/internal/config"
	"papercast/internal/logging"
	"papercast/internal/queue"
	"papercast/internal/retry"
	"papercast/internal/services"
	"papercast/internal/services/tts"
	"papercast/internal/stage"
)

// Synthesizer is the slice of the TTS client the narrator needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// Narrator turns translated papers into narration audio files.
type Narrator struct {
	cfg     *config.Config
	store   *queue.Store
	logger  *slog.Logger
	client  Synthesizer
	breaker *retry.Breaker
}

// NewNarrator constructs the narrator stage handler using default dependencies.
func NewNarrator(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Narrator {
	client := tts.NewClient(tts.Config{
		APIKey:         cfg.TTS.APIKey,
		BaseURL:        cfg.TTS.BaseURL,
		Language:       cfg.TTS.Language,
		Voice:          cfg.TTS.Voice,
		SpeakingRate:   cfg.TTS.SpeakingRate,
		TimeoutSeconds: cfg.TTS.TimeoutSeconds,
	})
	return NewNarratorWithDependencies(cfg, store, logger, client)
}

// NewNarratorWithDependencies allows injecting collaborators (used in tests).
func NewNarratorWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, client Synthesizer) *Narrator {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "narrator"))
	}
	return &Narrator{
		cfg:     cfg,
		store:   store,
		logger:  stageLogger,
		client:  client,
		breaker: retry.NewBreaker("tts", cfg.Breaker),
	}
}

func (n *Narrator) Prepare(ctx context.Context, paper *queue.Paper) error {
	logger := logging.WithContext(ctx, n.logger)
	if !paper.Translated() {
		return services.Wrap(services.ErrPermanent, "narrator", "validate inputs",
			"paper has no translation; run processing before narration", nil)
	}
	paper.LastError = ""
	logger.Info("starting narration", logging.String("title_zh", paper.TitleZH))
	return nil
}

func (n *Narrator) Execute(ctx context.Context, paper *queue.Paper) error {
	logger := logging.WithContext(ctx, n.logger)

	script := BuildScript(paper)
	executor := retry.NewExecutor(
		retry.PolicyFromConfig(n.cfg.Retry),
		retry.WithLogger(n.logger),
		retry.WithObserver(stage.AttemptRecorder(ctx, n.store, paper, queue.StageNarrate)),
	)

	var audio []byte
	err := executor.Execute(ctx, "tts synthesize", func(ctx context.Context) error {
		if err := n.breaker.Allow(); err != nil {
			return services.Wrap(services.ErrTransient, "narrator", "synthesize", "service suspended", err)
		}
		result, callErr := n.client.Synthesize(ctx, script)
		n.breaker.Record(callErr)
		if callErr != nil {
			return callErr
		}
		audio = result
		return nil
	})
	if err != nil {
		return err
	}

	target := filepath.Join(n.cfg.Paths.AudioDir, paper.ID+".mp3")
	if err := writeFileAtomic(target, audio); err != nil {
		return services.Wrap(services.ErrTransient, "narrator", "write audio", "persist audio file", err)
	}

	paper.AudioPath = target
	paper.Status = queue.StatusNarrated

	logger.Info("narration completed",
		logging.String("audio_path", target),
		logging.Int("audio_bytes", len(audio)))
	return nil
}

func (n *Narrator) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(n.cfg.TTS.BaseURL) == "" {
		return stage.Unhealthy("narrator", "tts base url missing")
	}
	if err := n.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("narrator", err.Error())
	}
	return stage.Healthy("narrator")
}

// BuildScript assembles the narration text: translated title, summary, the
// three applications, then the pitch.
func BuildScript(paper *queue.Paper) string {
	var b strings.Builder
	b.WriteString(paper.TitleZH)
	b.WriteString("\n\n")
	b.WriteString(paper.SummaryZH)
	if len(paper.Applications) > 0 {
		b.WriteString("\n\n這項技術有三個生活化的應用場景：\n")
		for i, app := range paper.Applications {
			b.WriteString(fmt.Sprintf("第%s，%s\n", chineseOrdinal(i+1), app))
		}
	}
	if strings.TrimSpace(paper.Pitch) != "" {
		b.WriteString("\n如果向創投或天使基金推銷，可以這樣說：\n")
		b.WriteString(paper.Pitch)
	}
	return b.String()
}

func chineseOrdinal(n int) string {
	ordinals := []string{"一", "二", "三", "四", "五", "六", "七", "八", "九"}
	if n >= 1 && n <= len(ordinals) {
		return ordinals[n-1]
	}
	return fmt.Sprintf("%d", n)
}

// writeFileAtomic writes via a temp file and rename so an interrupted run
// never leaves a partial audio file at the final path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
