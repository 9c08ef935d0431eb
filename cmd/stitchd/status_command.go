package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stitch/internal/daemon"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and environment health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status daemon.Status
			if err := ctx.apiGet("/api/status", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			renderStatus(out, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	return cmd
}

func renderStatus(out io.Writer, status daemon.Status) {
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runningKind := statusError
	runningMsg := "not running"
	if status.Running {
		runningKind = statusOK
		runningMsg = fmt.Sprintf("pid %d", status.PID)
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", runningKind, runningMsg, colorize))
	fmt.Fprintln(out, renderStatusLine("Task store", statusInfo, status.TaskDBPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Health", colorize) {
		fmt.Fprintln(out, line)
	}
	health := status.Health
	fmt.Fprintln(out, renderStatusLine("Store", boolStatus(health.StoreReachable), "", colorize))
	fmt.Fprintln(out, renderStatusLine("Workspace", boolStatus(health.WorkspaceWritable), "", colorize))
	fmt.Fprintln(out, renderStatusLine("Transcoder", boolStatus(health.TranscoderReady), "", colorize))
	if health.Detail != "" {
		fmt.Fprintln(out, renderStatusLine("Detail", statusWarn, health.Detail, colorize))
	}

	queueMsg := fmt.Sprintf("%d total (%d queued, %d processing, %d completed, %d failed)",
		health.Queue.Total, health.Queue.Queued, health.Queue.Processing, health.Queue.Completed, health.Queue.Failed)
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, queueMsg, colorize))
}
