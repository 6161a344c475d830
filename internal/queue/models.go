package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a paper in the pipeline.
type Status string

const (
	StatusFetched   Status = "fetched"
	StatusProcessed Status = "processed"
	StatusNarrated  Status = "narrated"
	StatusExported  Status = "exported"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusFetched,
	StatusProcessed,
	StatusNarrated,
	StatusExported,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Stage identifies one step of the fetch→process→narrate→export pipeline.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageProcess Stage = "process"
	StageNarrate Stage = "narrate"
	StageExport  Stage = "export"
)

// Outcome classifies a processing log entry.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Paper represents one fetched paper persisted in SQLite.
type Paper struct {
	ID          string
	Topic       string
	URL         string
	Title       string
	Abstract    string
	Authors     []string
	PublishedAt string

	TitleZH      string
	SummaryZH    string
	Applications []string
	Pitch        string

	AudioPath string

	Status       Status
	AttemptCount int
	LastError    string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExportedAt *time.Time
}

// LogEntry is one append-only processing audit record.
type LogEntry struct {
	ID        int64
	PaperID   string
	Stage     Stage
	Outcome   Outcome
	Message   string
	CreatedAt time.Time
}

// HealthSummary describes aggregated counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Fetched   int
	Processed int
	Narrated  int
	Exported  int
	Failed    int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the pipeline for an item this run.
func (s Status) IsTerminal() bool {
	return s == StatusExported || s == StatusFailed
}

// Translated reports whether the processor stage completed for this paper.
func (p *Paper) Translated() bool {
	return strings.TrimSpace(p.TitleZH) != "" && strings.TrimSpace(p.SummaryZH) != ""
}

// Narrated reports whether the narrator stage completed for this paper.
func (p *Paper) Narrated() bool {
	return strings.TrimSpace(p.AudioPath) != ""
}

// NextStage derives the next pending stage from surviving artifacts, so a
// failed item resumes from its last good stage rather than from scratch.
func (p *Paper) NextStage() (Stage, bool) {
	switch {
	case p.Status == StatusExported:
		return "", false
	case !p.Translated():
		return StageProcess, true
	case !p.Narrated():
		return StageNarrate, true
	default:
		return StageExport, true
	}
}

// SetFailed marks the paper failed with the given error message.
func (p *Paper) SetFailed(message string) {
	p.Status = StatusFailed
	p.LastError = message
}
