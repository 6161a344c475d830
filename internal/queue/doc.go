// Package queue persists papers and their processing audit log in SQLite.
//
// The papers table is the pipeline's single source of truth: one row per
// arXiv id, status advancing fetched→processed→narrated→exported, with
// failed reachable from any non-terminal state. paper_logs is append-only
// and never consulted for control flow.
package queue
