package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"praxis/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if client.Reachable() {
				status, err := client.Status()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Daemon running (pid %d)\n", status.PID)
				fmt.Fprintf(out, "Database: %s\n", status.QueueDBPath)
				if status.Queue.IsProcessing {
					fmt.Fprintf(out, "Processing: %s\n", status.Queue.CurrentItemID)
				}
				fmt.Fprintf(out, "Queue: %d/%d active\n", status.Queue.QueueSize, status.Queue.Capacity)
				if rows := buildStatsRows(status.Queue.Stats); len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows,
						[]columnAlignment{alignLeft, alignRight}))
				}
				return nil
			}

			fmt.Fprintln(out, "Daemon not running")
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildStatsRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func buildStatsRows(stats map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for status, count := range stats {
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(status), fmt.Sprintf("%d", count)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}
