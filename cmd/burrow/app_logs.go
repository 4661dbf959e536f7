package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Application commands
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Inspect applications",
}

var appLogsCmd = &cobra.Command{
	Use:   "logs CLUSTER APP",
	Short: "Print an application's output",
	Long: `Print an application's output from the node running it.

With --tail only the output after --current-bytes is printed, and the new
total is reported on stderr for the next call. --follow keeps printing new
output until the application completes or fails.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetBool("tail")
		current, _ := cmd.Flags().GetInt64("current-bytes")
		follow, _ := cmd.Flags().GetBool("follow")
		interval, _ := cmd.Flags().GetDuration("interval")

		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if follow {
				final, err := a.ops.Logs.Follow(ctx, args[0], args[1], interval, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Application %s %s\n", args[1], final.ApplicationState)
				return nil
			}

			appLog, err := a.ops.GetApplicationLog(ctx, args[0], args[1], tail, current)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(appLog.Log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "state=%s total_bytes=%d\n", appLog.ApplicationState, appLog.TotalBytes)
			return nil
		})
	},
}

// Job commands
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect scheduled jobs",
}

var jobRecentCmd = &cobra.Command{
	Use:   "recent SCHEDULE",
	Short: "Show the most recent job of a job schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			job, err := a.ops.Reconciler.GetRecentJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Job: %s\n", job.ID)
			fmt.Fprintf(w, "  State: %s\n", job.State)
			fmt.Fprintf(w, "  Pool: %s\n", job.PoolID)
			fmt.Fprintf(w, "  Created: %s\n", job.CreationTime.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	appCmd.AddCommand(appLogsCmd)
	jobCmd.AddCommand(jobRecentCmd)

	appLogsCmd.Flags().Bool("tail", false, "Only print output after --current-bytes")
	appLogsCmd.Flags().Int64("current-bytes", 0, "Bytes already read")
	appLogsCmd.Flags().BoolP("follow", "f", false, "Keep printing output until the application finishes")
	appLogsCmd.Flags().Duration("interval", 2*time.Second, "Polling interval for --follow")
}
