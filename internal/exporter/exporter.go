package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"papercast/internal/config"
	"papercast/internal/logging"
	"papercast/internal/queue"
	"papercast/internal/services"
	"papercast/internal/stage"
)

// Exporter serializes finalized papers into the JSONL feed.
type Exporter struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	now    func() time.Time
}

// Result summarizes one export pass.
type Result struct {
	Path     string
	Lines    int
	Exported int
}

// feedRecord fixes the field order of one JSONL line.
type feedRecord struct {
	ID           string   `json:"id"`
	Topic        string   `json:"topic"`
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Abstract     string   `json:"abstract"`
	Authors      []string `json:"authors"`
	PublishedAt  string   `json:"published_at"`
	TitleZH      string   `json:"title_zh"`
	SummaryZH    string   `json:"summary_zh"`
	Applications []string `json:"applications"`
	Pitch        string   `json:"pitch"`
	AudioPath    string   `json:"audio_path"`
	ExportedAt   string   `json:"exported_at"`
}

// NewExporter constructs the exporter.
func NewExporter(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Exporter {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "exporter"))
	}
	return &Exporter{cfg: cfg, store: store, logger: stageLogger, now: time.Now}
}

// WithClock overrides the exporter's time source (used in tests).
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	if now != nil {
		e.now = now
	}
	return e
}

// ExportAll rewrites the feed from the current store snapshot. Papers in
// ascending id order, one JSON object per line. Newly included narrated
// papers are stamped exported once the file is safely on disk, so a rerun
// with no new papers produces a byte-identical file.
func (e *Exporter) ExportAll(ctx context.Context) (Result, error) {
	logger := logging.WithContext(ctx, e.logger)
	result := Result{Path: e.cfg.Paths.ExportPath}

	papers, err := e.store.ExportSnapshot(ctx, e.cfg.Export.IncludeFailed)
	if err != nil {
		return result, err
	}

	stamp := e.now().UTC()
	var newlyExported []*queue.Paper
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	for _, paper := range papers {
		if paper.Status == queue.StatusNarrated {
			when := stamp
			paper.ExportedAt = &when
			paper.Status = queue.StatusExported
			newlyExported = append(newlyExported, paper)
		}
		if err := encoder.Encode(recordFromPaper(paper)); err != nil {
			return result, services.Wrap(services.ErrPermanent, "exporter", "encode", "serialize paper "+paper.ID, err)
		}
		result.Lines++
	}

	if err := writeFileAtomic(e.cfg.Paths.ExportPath, buf.Bytes()); err != nil {
		return result, services.Wrap(services.ErrTransient, "exporter", "write", "persist feed file", err)
	}

	for _, paper := range newlyExported {
		if err := e.store.MarkExported(ctx, paper, stamp); err != nil {
			return result, err
		}
		if err := e.store.AppendLog(ctx, queue.LogEntry{
			PaperID: paper.ID,
			Stage:   queue.StageExport,
			Outcome: queue.OutcomeOK,
		}); err != nil {
			return result, err
		}
		result.Exported++
	}

	logger.Info("feed exported",
		logging.String("path", result.Path),
		logging.Int("lines", result.Lines),
		logging.Int("newly_exported", result.Exported))
	return result, nil
}

// HealthCheck verifies the export target is configured.
func (e *Exporter) HealthCheck(ctx context.Context) stage.Health {
	if e.cfg.Paths.ExportPath == "" {
		return stage.Unhealthy("exporter", "export path missing")
	}
	return stage.Healthy("exporter")
}

func recordFromPaper(paper *queue.Paper) feedRecord {
	record := feedRecord{
		ID:           paper.ID,
		Topic:        paper.Topic,
		URL:          paper.URL,
		Title:        paper.Title,
		Abstract:     paper.Abstract,
		Authors:      paper.Authors,
		PublishedAt:  paper.PublishedAt,
		TitleZH:      paper.TitleZH,
		SummaryZH:    paper.SummaryZH,
		Applications: paper.Applications,
		Pitch:        paper.Pitch,
		AudioPath:    paper.AudioPath,
	}
	if record.Authors == nil {
		record.Authors = []string{}
	}
	if record.Applications == nil {
		record.Applications = []string{}
	}
	if paper.ExportedAt != nil {
		record.ExportedAt = paper.ExportedAt.UTC().Format(time.RFC3339Nano)
	}
	return record
}

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
