package exporter_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"papercast/internal/exporter"
	"papercast/internal/queue"
	"papercast/internal/testsupport"
)

func narratedPaper(t *testing.T, store *queue.Store, id string) *queue.Paper {
	t.Helper()
	paper := testsupport.NewPaper(t, store, id, "cs.CL")
	paper.Status = queue.StatusNarrated
	paper.TitleZH = "標題 " + id
	paper.SummaryZH = "摘要 " + id
	paper.Applications = []string{"一", "二", "三"}
	paper.Pitch = "推銷 " + id
	paper.AudioPath = "/audio/" + id + ".mp3"
	if err := store.Update(context.Background(), paper); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return paper
}

func TestExportAllWritesOrderedFeed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	// Insert out of order to prove the feed sorts by id.
	narratedPaper(t, store, "2601.00302")
	narratedPaper(t, store, "2601.00300")
	narratedPaper(t, store, "2601.00301")
	testsupport.NewPaper(t, store, "2601.00303", "cs.CL")

	stamp := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	exp := exporter.NewExporter(cfg, store, nil).WithClock(func() time.Time { return stamp })

	result, err := exp.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if result.Lines != 3 || result.Exported != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}

	data, err := os.ReadFile(cfg.Paths.ExportPath)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 feed lines, got %d", len(lines))
	}

	var ids []string
	for _, line := range lines {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("invalid feed line %q: %v", line, err)
		}
		ids = append(ids, record["id"].(string))
		if record["title_zh"] == "" || record["audio_path"] == "" {
			t.Fatalf("expected translation and audio in record: %v", record)
		}
		if record["exported_at"] != stamp.Format(time.RFC3339Nano) {
			t.Fatalf("expected exported_at %q, got %v", stamp.Format(time.RFC3339Nano), record["exported_at"])
		}
	}
	if ids[0] != "2601.00300" || ids[1] != "2601.00301" || ids[2] != "2601.00302" {
		t.Fatalf("expected ascending id order, got %v", ids)
	}

	// Field order is fixed within each line.
	if !strings.HasPrefix(lines[0], `{"id":"2601.00300","topic":`) {
		t.Fatalf("unexpected field order: %s", lines[0])
	}

	// All narrated papers are now exported.
	papers, err := store.ItemsByStatus(context.Background(), queue.StatusExported)
	if err != nil {
		t.Fatalf("ItemsByStatus: %v", err)
	}
	if len(papers) != 3 {
		t.Fatalf("expected 3 exported papers, got %d", len(papers))
	}
	for _, paper := range papers {
		if paper.ExportedAt == nil {
			t.Fatalf("expected exported_at persisted for %s", paper.ID)
		}
	}
}

func TestExportAllIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	narratedPaper(t, store, "2601.00310")

	exp := exporter.NewExporter(cfg, store, nil)
	if _, err := exp.ExportAll(context.Background()); err != nil {
		t.Fatalf("first ExportAll: %v", err)
	}
	first, err := os.ReadFile(cfg.Paths.ExportPath)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}

	// Second export with a different clock must not restamp anything.
	later := exporter.NewExporter(cfg, store, nil).WithClock(func() time.Time {
		return time.Now().Add(48 * time.Hour)
	})
	result, err := later.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("second ExportAll: %v", err)
	}
	if result.Exported != 0 {
		t.Fatalf("expected no newly exported papers, got %d", result.Exported)
	}
	second, err := os.ReadFile(cfg.Paths.ExportPath)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected byte-identical re-export\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestExportAllIncludesFailedWhenConfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithIncludeFailed(true))
	store := testsupport.MustOpenStore(t, cfg)

	narratedPaper(t, store, "2601.00320")
	failed := testsupport.NewPaper(t, store, "2601.00321", "cs.CL")
	failed.TitleZH = "部分標題"
	failed.SummaryZH = "部分摘要"
	failed.SetFailed("tts down")
	if err := store.Update(context.Background(), failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	result, err := exporter.NewExporter(cfg, store, nil).ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if result.Lines != 2 {
		t.Fatalf("expected failed paper included, got %d lines", result.Lines)
	}
	if result.Exported != 1 {
		t.Fatalf("expected only narrated paper stamped, got %d", result.Exported)
	}

	// The failed paper stays failed.
	still, err := store.GetByID(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if still.Status != queue.StatusFailed {
		t.Fatalf("expected failed status preserved, got %s", still.Status)
	}
}

func TestExportAllEmptyStoreWritesEmptyFeed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	result, err := exporter.NewExporter(cfg, store, nil).ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if result.Lines != 0 {
		t.Fatalf("expected empty feed, got %d lines", result.Lines)
	}
	data, err := os.ReadFile(cfg.Paths.ExportPath)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty file, got %q", data)
	}
}
