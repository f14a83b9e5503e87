package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"praxis/internal/notify"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var requester string
	var origin string

	cmd := &cobra.Command{
		Use:   "submit <query>",
		Short: "Submit a research query to the running daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if !client.Reachable() {
				return errors.New("praxis daemon is not running (start praxisd first)")
			}

			query := strings.TrimSpace(strings.Join(args, " "))
			result, err := client.Submit(requester, query, origin)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted %s\n", result.Item.ID)
			if result.Position > 0 {
				wait := notify.FormatWait(time.Duration(result.WaitSecs) * time.Second)
				fmt.Fprintf(out, "Position #%d, estimated wait %s\n", result.Position, wait)
			} else {
				fmt.Fprintln(out, "Processing will begin immediately")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&requester, "requester", "r", "cli", "Requester identity to record")
	cmd.Flags().StringVarP(&origin, "origin", "o", "cli", "Delivery origin for notifications")
	return cmd
}
