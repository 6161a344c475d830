package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"papercast/internal/config"
	"papercast/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the paper queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueLogsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show paper counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}

				if jsonOutput {
					counts := make(map[string]int, len(stats))
					for status, count := range stats {
						counts[string(status)] = count
					}
					return writeJSON(cmd, map[string]any{"counts": counts})
				}

				rows := buildStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"}, rows, 1))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit stats as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued papers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []queue.Status
			for _, value := range listStatuses {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				papers, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}

				if jsonOutput {
					items := make([]map[string]any, 0, len(papers))
					for _, paper := range papers {
						items = append(items, map[string]any{
							"id":            paper.ID,
							"topic":         paper.Topic,
							"title":         paper.Title,
							"status":        string(paper.Status),
							"attempt_count": paper.AttemptCount,
							"last_error":    paper.LastError,
						})
					}
					return writeJSON(cmd, map[string]any{"papers": items})
				}

				if len(papers) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(papers))
				for _, paper := range papers {
					rows = append(rows, []string{
						paper.ID,
						paper.Topic,
						truncate(paper.Title, 60),
						string(paper.Status),
						strconv.Itoa(paper.AttemptCount),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Topic", "Title", "Status", "Attempts"}, rows, 4))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit papers as JSON")
	return cmd
}

func newQueueLogsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <paperID>",
		Short: "Show the processing log for one paper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paperID := strings.TrimSpace(args[0])
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				paper, err := store.GetByID(cmd.Context(), paperID)
				if err != nil {
					return err
				}
				if paper == nil {
					return fmt.Errorf("paper %s not found", paperID)
				}

				entries, err := store.LogsForPaper(cmd.Context(), paperID)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No log entries")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						entry.CreatedAt.UTC().Format(time.RFC3339),
						string(entry.Stage),
						string(entry.Outcome),
						truncate(entry.Message, 80),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Time", "Stage", "Outcome", "Message"}, rows))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [paperID...]",
		Short: "Reset failed papers so the next run picks them up",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					updated, err := store.RetryFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Reset %d failed papers\n", updated)
					return nil
				}

				for _, arg := range args {
					id := strings.TrimSpace(arg)
					paper, err := store.GetByID(cmd.Context(), id)
					if err != nil {
						return err
					}
					if paper == nil {
						fmt.Fprintf(out, "Paper %s not found\n", id)
						continue
					}
					if paper.Status != queue.StatusFailed {
						fmt.Fprintf(out, "Paper %s is not in failed state\n", id)
						continue
					}
					updated, err := store.RetryFailed(cmd.Context(), id)
					if err != nil {
						return err
					}
					if updated > 0 {
						fmt.Fprintf(out, "Paper %s reset for retry\n", id)
					} else {
						fmt.Fprintf(out, "Paper %s is not in failed state\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove papers from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				if clearFailed {
					removed, err := store.ClearFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failed papers\n", removed)
					return nil
				}
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Cleared %d papers\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed papers")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"Total: %d\nFetched: %d\nProcessed: %d\nNarrated: %d\nExported: %d\nFailed: %d\n",
					health.Total,
					health.Fetched,
					health.Processed,
					health.Narrated,
					health.Exported,
					health.Failed,
				)
				return nil
			})
		},
	}
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
