package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}

			running := "stopped"
			if status.Running {
				running = "running"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon: %s (pid %d)\n", running, status.PID)
			fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n", status.TaskDBPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Lock: %s\n\n", status.LockFilePath)

			rows := [][]string{
				{"Total", strconv.Itoa(status.Health.Total)},
				{"Draft", strconv.Itoa(status.Health.Draft)},
				{"Processing", strconv.Itoa(status.Health.Processing)},
				{"Completed", strconv.Itoa(status.Health.Completed)},
				{"Failed", strconv.Itoa(status.Health.Failed)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"State", "Tasks"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
