package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"stitch/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the task queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

// withStore opens the task database directly. Reads are safe alongside a
// running daemon because the store runs in WAL mode.
func withStore(ctx *commandContext, fn func(*queue.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func parseStatusFilter(value string) ([]queue.Status, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	switch queue.Status(value) {
	case queue.StatusQueued, queue.StatusProcessing, queue.StatusCompleted, queue.StatusFailed:
		return []queue.Status{queue.Status(value)}, nil
	}
	return nil, fmt.Errorf("unknown status %q (expected queued, processing, completed, or failed)", value)
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFilter(statusFlag)
			if err != nil {
				return err
			}
			return withStore(ctx, func(store *queue.Store) error {
				tasks, err := store.List(context.Background(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks found")
					return nil
				}

				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						shortID(task.ID),
						task.ConversationID,
						string(task.Status),
						fmt.Sprintf("%d/%d", task.ProcessedSegments, task.TotalSegments),
						fmt.Sprintf("%d", task.Retries),
						task.LastUpdated.Local().Format("2006-01-02 15:04:05"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"TASK", "CONVERSATION", "STATUS", "SEGMENTS", "RETRIES", "UPDATED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (queued, processing, completed, failed)")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(store *queue.Store) error {
				stats, err := store.Stats(context.Background())
				if err != nil {
					return err
				}

				statuses := make([]string, 0, len(stats))
				total := 0
				for status, count := range stats {
					statuses = append(statuses, string(status))
					total += count
				}
				sort.Strings(statuses)

				rows := make([][]string, 0, len(statuses)+1)
				for _, status := range statuses {
					rows = append(rows, []string{status, fmt.Sprintf("%d", stats[queue.Status(status)])})
				}
				rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})

				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"STATUS", "COUNT"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Summarize queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(store *queue.Store) error {
				summary, err := store.Health(context.Background())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				kind := statusOK
				if summary.Failed > 0 {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Queue", kind, fmt.Sprintf("%d tasks", summary.Total), colorize))
				fmt.Fprintln(out, renderStatusLine("Queued", statusInfo, fmt.Sprintf("%d", summary.Queued), colorize))
				fmt.Fprintln(out, renderStatusLine("Processing", statusInfo, fmt.Sprintf("%d", summary.Processing), colorize))
				fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, fmt.Sprintf("%d", summary.Completed), colorize))
				fmt.Fprintln(out, renderStatusLine("Failed", boolStatus(summary.Failed == 0), fmt.Sprintf("%d", summary.Failed), colorize))
				return nil
			})
		},
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
