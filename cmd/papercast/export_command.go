package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"papercast/internal/config"
	"papercast/internal/exporter"
	"papercast/internal/queue"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rewrite the JSONL feed from the current store contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				logger, err := ctx.newLogger(cfg, "stderr")
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}

				result, err := exporter.NewExporter(cfg, store, logger).ExportAll(cmd.Context())
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, map[string]any{
						"path":     result.Path,
						"lines":    result.Lines,
						"exported": result.Exported,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d lines to %s (%d newly exported)\n",
					result.Lines, result.Path, result.Exported)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the export result as JSON")
	return cmd
}
