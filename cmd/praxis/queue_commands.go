package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"praxis/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the research queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var items []*queue.Item
			if client.Reachable() {
				items, err = client.List(listStatuses)
				if err != nil {
					return err
				}
			} else {
				err = ctx.withStore(func(store *queue.Store) error {
					var statuses []queue.Status
					for _, raw := range listStatuses {
						parsed, ok := queue.ParseStatus(raw)
						if !ok {
							return fmt.Errorf("unknown status %q", raw)
						}
						statuses = append(statuses, parsed)
					}
					items, err = store.List(cmd.Context(), statuses...)
					return err
				})
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Requester", "Query", "Status", "Submitted"},
				buildQueueListRows(items),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (queued, processing, completed, failed)")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and failed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				var removed int64
				var err error
				if all {
					removed, err = store.Clear(cmd.Context())
				} else {
					removed, err = store.ClearTerminal(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every item, including queued ones")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if health.Healthy() {
					fmt.Fprintln(out, "Queue database is healthy")
				} else {
					fmt.Fprintf(out, "Queue database is unhealthy: %s\n", health.Error)
				}
				return nil
			})
		},
	}
}

func buildQueueListRows(items []*queue.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Requester,
			item.QueryExcerpt(48),
			string(item.Status),
			item.SubmittedAt.Local().Format(time.RFC3339),
		})
	}
	return rows
}
