package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"resonate/internal/core"
	"resonate/internal/tasks"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage conversion tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskCreateCommand(ctx))
	taskCmd.AddCommand(newTaskRetryCommand(ctx))
	return taskCmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var ownerFlag string
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversion tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			list, err := client.listTasks(cmd.Context(), strings.TrimSpace(ownerFlag))
			if err != nil {
				return err
			}

			if statusFlag != "" {
				wanted, ok := tasks.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				filtered := list[:0]
				for _, task := range list {
					if task.Status == wanted {
						filtered = append(filtered, task)
					}
				}
				list = filtered
			}

			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, task := range list {
				rows = append(rows, []string{
					task.ID,
					task.OwnerID,
					task.TargetVoiceID,
					string(task.Status),
					strconv.Itoa(task.Progress) + "%",
					task.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Owner", "Voice", "Status", "Progress", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "Only show tasks for this owner")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Only show tasks with this status")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			task, err := client.getTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonFlag {
				encoded, err := json.MarshalIndent(task, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return nil
			}

			rows := [][]string{
				{"ID", task.ID},
				{"Owner", task.OwnerID},
				{"Source", task.SourceURL},
				{"Voice", task.TargetVoiceID},
				{"Status", string(task.Status)},
				{"Progress", strconv.Itoa(task.Progress) + "%"},
			}
			if task.PitchShift != nil {
				rows = append(rows, []string{"Pitch shift", strconv.FormatFloat(*task.PitchShift, 'f', 2, 64) + " st"})
			}
			if task.ProviderJobID != "" {
				rows = append(rows, []string{"Provider job", task.ProviderJobID})
			}
			if task.OutputURL != "" {
				rows = append(rows, []string{"Output", task.OutputURL})
			}
			if task.Error != "" {
				rows = append(rows, []string{"Error", task.Error})
			}
			if price, ok := task.CostMetadata["price_coins"].(float64); ok {
				rows = append(rows, []string{"Price", strconv.FormatFloat(price, 'f', 2, 64) + " coins"})
			}
			rows = append(rows,
				[]string{"Created", task.CreatedAt.Local().Format("2006-01-02 15:04:05")},
				[]string{"Updated", task.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
			)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit the raw JSON document")
	return cmd
}

func newTaskCreateCommand(ctx *commandContext) *cobra.Command {
	var req core.CreateRequest
	var pitchFlag float64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new conversion task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pitch") {
				req.PitchShift = &pitchFlag
			}
			task, err := client.createTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s accepted (status %s).\n", task.ID, task.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "Owner the conversion is billed to")
	cmd.Flags().StringVar(&req.SourceURL, "source", "", "URL of the source recording")
	cmd.Flags().StringVar(&req.TargetVoiceID, "voice", "", "Target voice identifier")
	cmd.Flags().Float64Var(&pitchFlag, "pitch", 0, "Pitch shift in semitones (skips automatic analysis)")
	cmd.Flags().StringVar(&req.WebhookURL, "webhook", "", "Callback URL notified when the task settles")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("voice")
	return cmd
}

func newTaskRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Reset a failed task and run it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.retryTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s queued for retry.\n", args[0])
			return nil
		},
	}
}
