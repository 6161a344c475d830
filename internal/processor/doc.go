// Package processor translates fetched papers into Traditional Chinese and
// attaches the structured summary bundle used by narration and export.
package processor
