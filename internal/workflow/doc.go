// Package workflow orchestrates pipeline runs. A run fetches new papers,
// drives every pending paper through its remaining stages on a bounded
// worker pool, and finishes by exporting the feed. Paper state is persisted
// after every stage transition so an interrupted run resumes where it
// stopped.
package workflow
