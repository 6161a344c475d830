package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"papercast/internal/queue"
	"papercast/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one full pipeline pass: fetch, translate, narrate, export",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire run lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another papercast run holds %s", cfg.LockPath())
			}
			defer lock.Unlock()

			runStamp := time.Now().UTC().Format("20060102T150405Z")
			logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("papercast-%s.log", runStamp))
			logger, err := ctx.newLogger(cfg, "stderr", logPath)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			manager := workflow.NewManager(cfg, store, logger)
			summary, runErr := manager.Run(signalCtx)
			if runErr != nil {
				return runErr
			}

			if jsonOutput {
				return writeRunSummaryJSON(cmd, summary)
			}
			printRunSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the run summary as JSON")
	return cmd
}

func printRunSummary(cmd *cobra.Command, summary workflow.Summary) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Run summary", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Fetched", statusInfo, strconv.Itoa(summary.Fetched), colorize))
	fmt.Fprintln(out, renderStatusLine("Skipped", statusInfo, strconv.Itoa(summary.Skipped), colorize))
	exportKind := statusOK
	if summary.Exported == 0 {
		exportKind = statusInfo
	}
	fmt.Fprintln(out, renderStatusLine("Exported", exportKind, strconv.Itoa(summary.Exported), colorize))
	if summary.FeedPath != "" {
		fmt.Fprintln(out, renderStatusLine("Feed", statusInfo,
			fmt.Sprintf("%s (%d lines)", summary.FeedPath, summary.FeedLines), colorize))
	}
	if len(summary.FailedTopics) > 0 {
		fmt.Fprintln(out, renderStatusLine("Failed topics", statusWarn,
			strings.Join(summary.FailedTopics, ", "), colorize))
	}

	if len(summary.Counts) > 0 {
		rows := buildStatusRows(summary.Counts)
		fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, 1))
	}

	for _, failure := range summary.Failures {
		fmt.Fprintln(out, renderStatusLine(failure.PaperID, statusError, failure.LastError, colorize))
	}
}

func buildStatusRows(counts map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses() {
		if count, ok := counts[status]; ok && count > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(count)})
		}
	}
	return rows
}

func writeRunSummaryJSON(cmd *cobra.Command, summary workflow.Summary) error {
	counts := make(map[string]int, len(summary.Counts))
	for status, count := range summary.Counts {
		counts[string(status)] = count
	}
	failures := make([]map[string]string, 0, len(summary.Failures))
	for _, failure := range summary.Failures {
		failures = append(failures, map[string]string{
			"paper_id":   failure.PaperID,
			"last_error": failure.LastError,
		})
	}
	return writeJSON(cmd, map[string]any{
		"fetched":       summary.Fetched,
		"skipped":       summary.Skipped,
		"failed_topics": summary.FailedTopics,
		"exported":      summary.Exported,
		"feed_path":     summary.FeedPath,
		"feed_lines":    summary.FeedLines,
		"counts":        counts,
		"failures":      failures,
	})
}
