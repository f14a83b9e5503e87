package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "cancel <item-id>",
		Short: "Cancel a queued query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if !client.Reachable() {
				return errors.New("praxis daemon is not running (start praxisd first)")
			}

			removed, err := client.Cancel(args[0], requester)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if removed {
				fmt.Fprintf(out, "Cancelled %s\n", args[0])
			} else {
				fmt.Fprintf(out, "%s was not cancellable (unknown, already processing, or finished)\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&requester, "requester", "r", "", "Only cancel if the item belongs to this requester")
	return cmd
}
