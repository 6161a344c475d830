// Package exporter rewrites the JSONL feed from the paper store. Output is
// deterministic: ascending id order, fixed field order, exported_at stamped
// once per paper.
package exporter
