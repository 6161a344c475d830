// Package retry provides the bounded retry executor and per-service circuit
// breakers that wrap every external call the pipeline makes.
package retry
