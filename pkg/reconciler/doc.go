/*
Package reconciler answers task questions by merging the scheduler's view of
a cluster with the cluster's tracking table.

The scheduler is authoritative for the current state of a task. The tracking
table outlives the scheduler's records and carries the history a cluster's
tasks went through. The reconciler reads both and picks a source per call:

	┌────────────────────────────────────────────┐
	│                 ListTasks                  │
	└───────────────┬────────────────────────────┘
	                │
	      tracking table has rows?
	        │                  │
	       yes                 no / missing / error
	        │                  │
	        ▼                  ▼
	  overlay scheduler    ListSchedulerTasks
	  state per row        (scheduler only)
	        │
	  scheduler newer?
	        │
	        ▼
	  read-repair row

# Overlay

For every tracking row the scheduler's task of the same id is fetched. The
row takes the scheduler's state and exit code, and its node id when the row
has none. When the scheduler's state transition time is newer than the
row's, the row also takes the scheduler's end time and failure info and is
written back to the tracking table. A task the scheduler no longer knows
keeps its tracking row as is. Any other scheduler error fails the call.

# Background Sync

Sync copies every scheduler task of a cluster into its tracking table,
inserting missing rows and advancing stale ones. Start runs Sync for a set
of clusters on a ticker until Stop is called:

	r := reconciler.NewReconciler(client, tracking.NewStore(store))
	if err := r.Start(30*time.Second, "c1", "c2"); err != nil {
		return err
	}
	defer r.Stop()

# Waiting

WaitForTask polls GetTaskState until the task completes or fails, or the
context ends, in which case a Timeout error is returned.
*/
package reconciler
