package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"papercast/internal/services"
)

func TestPrettyHandlerFormatsComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Info("stage started", String(FieldComponent, "processor"), String(FieldPaperID, "2401.00001v1"))

	line := buf.String()
	if !strings.Contains(line, "INFO processor: stage started") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "paper_id=2401.00001v1") {
		t.Fatalf("missing paper_id attr: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Warn("fetch failed", String("topic", "large language models"))

	if !strings.Contains(buf.String(), `topic="large language models"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn should be emitted: %q", out)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	base := slog.New(newPrettyHandler(&buf, lvl))

	ctx := services.WithPaperID(context.Background(), "2402.99999v2")
	ctx = services.WithStage(ctx, "narrate")

	WithContext(ctx, base).Info("synthesizing")

	out := buf.String()
	if !strings.Contains(out, "paper_id=2402.99999v2") || !strings.Contains(out, "stage=narrate") {
		t.Fatalf("context fields missing: %q", out)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing happens")
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("noop logger should report disabled")
	}
}
