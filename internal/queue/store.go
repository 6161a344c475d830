package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"papercast/internal/config"
)

// Store manages paper persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the paper database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a paper id has been seen before.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM papers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check paper exists: %w", err)
	}
	return true, nil
}

// Upsert inserts a new paper or refreshes the source fields of an existing
// one. The single statement keeps concurrent writers for the same id atomic.
// Status and pipeline artifacts of an existing row are left untouched.
func (s *Store) Upsert(ctx context.Context, paper *Paper) error {
	if paper == nil {
		return errors.New("paper is nil")
	}
	if paper.ID == "" {
		return errors.New("paper id is required")
	}
	now := time.Now().UTC()
	if paper.CreatedAt.IsZero() {
		paper.CreatedAt = now
	}
	paper.UpdatedAt = now
	if paper.Status == "" {
		paper.Status = StatusFetched
	}

	authorsJSON, err := marshalStrings(paper.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO papers (
            id, topic, url, title, abstract, authors_json, published_at,
            status, attempt_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            topic = excluded.topic,
            url = excluded.url,
            updated_at = excluded.updated_at`,
		paper.ID,
		paper.Topic,
		paper.URL,
		paper.Title,
		paper.Abstract,
		nullableString(authorsJSON),
		nullableString(paper.PublishedAt),
		paper.Status,
		paper.AttemptCount,
		paper.CreatedAt.Format(time.RFC3339Nano),
		paper.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}
	return nil
}

// Update persists changes to an existing paper.
func (s *Store) Update(ctx context.Context, paper *Paper) error {
	if paper == nil {
		return errors.New("paper is nil")
	}
	paper.UpdatedAt = time.Now().UTC()

	applicationsJSON, err := marshalStrings(paper.Applications)
	if err != nil {
		return fmt.Errorf("marshal applications: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE papers
         SET title_zh = ?, summary_zh = ?, applications_json = ?, pitch = ?,
             audio_path = ?, status = ?, attempt_count = ?, last_error = ?,
             updated_at = ?, exported_at = ?
         WHERE id = ?`,
		nullableString(paper.TitleZH),
		nullableString(paper.SummaryZH),
		nullableString(applicationsJSON),
		nullableString(paper.Pitch),
		nullableString(paper.AudioPath),
		paper.Status,
		paper.AttemptCount,
		nullableString(paper.LastError),
		paper.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(paper.ExportedAt),
		paper.ID,
	)
	if err != nil {
		return fmt.Errorf("update paper: %w", err)
	}
	return nil
}

// MarkExported stamps a paper exported. The export timestamp is written only
// once; re-exporting keeps the original stamp so the feed stays byte-stable.
func (s *Store) MarkExported(ctx context.Context, paper *Paper, at time.Time) error {
	if paper == nil {
		return errors.New("paper is nil")
	}
	if paper.ExportedAt == nil {
		when := at.UTC()
		paper.ExportedAt = &when
	}
	paper.Status = StatusExported
	paper.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE papers SET status = ?, exported_at = ?, updated_at = ? WHERE id = ?`,
		paper.Status,
		nullableTime(paper.ExportedAt),
		paper.UpdatedAt.Format(time.RFC3339Nano),
		paper.ID,
	)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

// GetByID fetches a paper by identifier, or nil when unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Paper, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ?`, id)
	paper, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	return paper, nil
}

// ItemsByStatus returns papers matching a status ordered by id.
func (s *Store) ItemsByStatus(ctx context.Context, status Status) ([]*Paper, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()
	return collectPapers(rows)
}

// List returns papers filtered by status set (or all papers when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Paper, error) {
	baseQuery := `SELECT ` + paperColumns + ` FROM papers`
	orderClause := ` ORDER BY id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()
	return collectPapers(rows)
}

// ListPending returns papers with pipeline work remaining this run: everything
// not yet exported, excluding failed items unless includeFailed is set.
func (s *Store) ListPending(ctx context.Context, includeFailed bool) ([]*Paper, error) {
	statuses := []Status{StatusFetched, StatusProcessed, StatusNarrated}
	if includeFailed {
		statuses = append(statuses, StatusFailed)
	}
	return s.List(ctx, statuses...)
}

// AppendLog inserts an append-only processing audit record.
func (s *Store) AppendLog(ctx context.Context, entry LogEntry) error {
	if entry.PaperID == "" {
		return errors.New("log entry requires a paper id")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO paper_logs (paper_id, stage, outcome, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.PaperID,
		entry.Stage,
		entry.Outcome,
		nullableString(entry.Message),
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// LogsForPaper returns the audit trail for one paper in insertion order.
func (s *Store) LogsForPaper(ctx context.Context, paperID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, paper_id, stage, outcome, message, created_at FROM paper_logs WHERE paper_id = ? ORDER BY id`,
		paperID,
	)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry      LogEntry
			message    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.PaperID, &entry.Stage, &entry.Outcome, &message, &createdRaw); err != nil {
			return nil, err
		}
		entry.Message = message.String
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ExportSnapshot returns the papers eligible for the feed in ascending id
// order: narrated and already-exported items, plus failed items that at least
// completed translation when includeFailed is set.
func (s *Store) ExportSnapshot(ctx context.Context, includeFailed bool) ([]*Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers WHERE status IN (?, ?)`
	args := []any{StatusNarrated, StatusExported}
	if includeFailed {
		query += ` OR (status = ? AND title_zh IS NOT NULL)`
		args = append(args, StatusFailed)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	defer rows.Close()
	return collectPapers(rows)
}

// RetryFailed moves failed papers back into the pipeline for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE papers SET status = ?, last_error = NULL, updated_at = ? WHERE status = ?`,
			StatusFetched,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed papers: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusFetched, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE papers SET status = ?, last_error = NULL, updated_at = ? WHERE id IN (`+placeholders+`) AND status = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected papers: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of papers grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM papers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("paper stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates store state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusFetched:
			health.Fetched += count
		case StatusProcessed:
			health.Processed += count
		case StatusNarrated:
			health.Narrated += count
		case StatusExported:
			health.Exported += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// Clear removes all papers and their logs. Operator escape hatch; the
// pipeline itself never deletes.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM paper_logs`); err != nil {
		return 0, fmt.Errorf("clear logs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM papers`)
	if err != nil {
		return 0, fmt.Errorf("clear papers: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed papers.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM papers WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

const paperColumns = "id, topic, url, title, abstract, authors_json, published_at, title_zh, summary_zh, applications_json, pitch, audio_path, status, attempt_count, last_error, created_at, updated_at, exported_at"

func collectPapers(rows *sql.Rows) ([]*Paper, error) {
	var papers []*Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, paper)
	}
	return papers, rows.Err()
}

func scanPaper(scanner interface{ Scan(dest ...any) error }) (*Paper, error) {
	var (
		id           string
		topic        string
		url          string
		title        string
		abstract     string
		authorsRaw   sql.NullString
		publishedAt  sql.NullString
		titleZH      sql.NullString
		summaryZH    sql.NullString
		applications sql.NullString
		pitch        sql.NullString
		audioPath    sql.NullString
		statusStr    string
		attemptCount int
		lastError    sql.NullString
		createdRaw   string
		updatedRaw   string
		exportedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&topic,
		&url,
		&title,
		&abstract,
		&authorsRaw,
		&publishedAt,
		&titleZH,
		&summaryZH,
		&applications,
		&pitch,
		&audioPath,
		&statusStr,
		&attemptCount,
		&lastError,
		&createdRaw,
		&updatedRaw,
		&exportedRaw,
	); err != nil {
		return nil, err
	}

	paper := &Paper{
		ID:           id,
		Topic:        topic,
		URL:          url,
		Title:        title,
		Abstract:     abstract,
		PublishedAt:  publishedAt.String,
		TitleZH:      titleZH.String,
		SummaryZH:    summaryZH.String,
		Pitch:        pitch.String,
		AudioPath:    audioPath.String,
		Status:       Status(statusStr),
		AttemptCount: attemptCount,
		LastError:    lastError.String,
	}
	if authors, err := unmarshalStrings(authorsRaw.String); err == nil {
		paper.Authors = authors
	}
	if apps, err := unmarshalStrings(applications.String); err == nil {
		paper.Applications = apps
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		paper.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		paper.UpdatedAt = updated
	}
	if exportedRaw.Valid {
		if exported, err := parseTimeString(exportedRaw.String); err == nil {
			paper.ExportedAt = &exported
		}
	}
	return paper, nil
}

func marshalStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
