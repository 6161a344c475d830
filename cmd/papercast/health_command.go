package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"papercast/internal/config"
	"papercast/internal/logging"
	"papercast/internal/queue"
	"papercast/internal/workflow"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check readiness of every pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				manager := workflow.NewManager(cfg, store, logging.NewNop())
				checks := manager.Health(cmd.Context())

				if jsonOutput {
					items := make([]map[string]any, 0, len(checks))
					for _, check := range checks {
						items = append(items, map[string]any{
							"name":   check.Name,
							"ready":  check.Ready,
							"detail": check.Detail,
						})
					}
					return writeJSON(cmd, map[string]any{"checks": items})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				unhealthy := 0
				for _, check := range checks {
					kind := statusOK
					message := "ready"
					if !check.Ready {
						kind = statusError
						message = check.Detail
						unhealthy++
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, message, colorize))
				}
				if unhealthy > 0 {
					return fmt.Errorf("%d stage(s) not ready", unhealthy)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit health checks as JSON")
	return cmd
}
