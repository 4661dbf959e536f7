package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/errdefs"
)

// Task commands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Track application tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list CLUSTER",
	Short: "List a cluster's tasks",
	Long: `List a cluster's tasks from the tracking table, overlaid with the
scheduler's current state. Falls back to the scheduler when the cluster
has no tracking table.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			tasks, err := a.ops.ListTasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		})
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get CLUSTER TASK",
	Short: "Show a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			task, err := a.ops.Tracking.Get(ctx, args[0], args[1])
			if errdefs.IsNotFound(err) {
				task, err = a.ops.Reconciler.GetSchedulerTask(ctx, args[0], args[1])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		})
	},
}

var taskStateCmd = &cobra.Command{
	Use:   "state CLUSTER TASK",
	Short: "Show the scheduler's current state of a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			state, err := a.ops.GetTaskState(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		})
	},
}

var taskWaitCmd = &cobra.Command{
	Use:   "wait CLUSTER TASK",
	Short: "Wait until a task completes or fails",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			state, err := a.ops.Reconciler.WaitForTask(ctx, args[0], args[1], interval)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		})
	},
}

var taskSyncCmd = &cobra.Command{
	Use:   "sync CLUSTER...",
	Short: "Copy the scheduler's task states into the tracking tables",
	Long: `Copy the scheduler's task states into the clusters' tracking tables.

With --watch the sync repeats every interval until interrupted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetDuration("watch")

		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if watch > 0 {
				sub := a.broker.Subscribe()
				defer a.broker.Unsubscribe(sub)

				if err := a.ops.Reconciler.Start(watch, args...); err != nil {
					return err
				}
				defer a.ops.Reconciler.Stop()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Syncing %d cluster(s) every %s. Press Ctrl+C to stop.\n", len(args), watch)

				for {
					select {
					case e := <-sub:
						fmt.Fprintf(w, "%s %-20s %s/%s %s\n",
							e.Timestamp.Format(time.RFC3339), e.Type, e.ClusterID, e.TaskID, e.State)
					case <-ctx.Done():
						return nil
					}
				}
			}

			for _, clusterID := range args {
				n, err := a.ops.Reconciler.Sync(ctx, clusterID)
				if err != nil {
					return fmt.Errorf("cluster %s: %w", clusterID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d task(s) written\n", clusterID, n)
			}
			return nil
		})
	},
}

var taskTableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage a cluster's tracking table",
}

var taskTableCreateCmd = &cobra.Command{
	Use:   "create CLUSTER",
	Short: "Create a cluster's tracking table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.ops.Tracking.CreateTable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created tracking table for %s\n", args[0])
			return nil
		})
	},
}

var taskTableDeleteCmd = &cobra.Command{
	Use:   "delete CLUSTER",
	Short: "Delete a cluster's tracking table and its rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			deleted, err := a.ops.Tracking.DeleteTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "No tracking table for %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted tracking table for %s\n", args[0])
			return nil
		})
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskStateCmd)
	taskCmd.AddCommand(taskWaitCmd)
	taskCmd.AddCommand(taskSyncCmd)
	taskCmd.AddCommand(taskTableCmd)
	taskTableCmd.AddCommand(taskTableCreateCmd)
	taskTableCmd.AddCommand(taskTableDeleteCmd)

	taskWaitCmd.Flags().Duration("interval", 5*time.Second, "Polling interval")
	taskWaitCmd.Flags().Duration("timeout", 0, "Give up after this long (default: wait forever)")
	taskSyncCmd.Flags().Duration("watch", 0, "Repeat the sync at this interval")
}
