package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/tracking"
	"github.com/cuemby/burrow/pkg/types"
)

// Sources that can answer a task listing
const (
	SourceTracking  = "tracking"
	SourceScheduler = "scheduler"
)

// Reconciler merges task state from the scheduler, which is authoritative
// for state and exit code, and the tracking store, which is authoritative
// for which tasks a cluster has.
type Reconciler struct {
	scheduler scheduler.Client
	tracking  *tracking.Store
	broker    *events.Broker
	logger    zerolog.Logger

	mu       sync.Mutex
	clusters []string
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(client scheduler.Client, store *tracking.Store) *Reconciler {
	return &Reconciler{
		scheduler: client,
		tracking:  store,
		logger:    log.WithComponent("reconciler"),
	}
}

// SetBroker makes Sync publish an event for every task whose state it changes
func (r *Reconciler) SetBroker(b *events.Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broker = b
}

// GetTaskState returns a task's state straight from the scheduler
func (r *Reconciler) GetTaskState(ctx context.Context, clusterID, taskID string) (types.TaskState, error) {
	task, err := r.GetSchedulerTask(ctx, clusterID, taskID)
	if err != nil {
		return "", err
	}
	return task.State, nil
}

// GetSchedulerTask returns the scheduler's record of a task as a Task
func (r *Reconciler) GetSchedulerTask(ctx context.Context, clusterID, taskID string) (*types.Task, error) {
	task, err := r.scheduler.GetTask(ctx, clusterID, taskID)
	if err != nil {
		return nil, scheduler.Classify("get task", err)
	}
	return task.Project(clusterID), nil
}

// ListSchedulerTasks returns every task the scheduler has for the cluster
func (r *Reconciler) ListSchedulerTasks(ctx context.Context, clusterID string) ([]*types.Task, error) {
	native, err := r.scheduler.ListTasks(ctx, clusterID)
	if err != nil {
		return nil, scheduler.Classify("list tasks", err)
	}
	tasks := make([]*types.Task, 0, len(native))
	for _, t := range native {
		tasks = append(tasks, t.Project(clusterID))
	}
	return tasks, nil
}

// ListTasks lists a cluster's tasks. Rows of the tracking store are returned
// with the scheduler's state and exit code laid over them, and rows the
// scheduler has newer transitions for are rewritten. When the store has no
// rows or cannot be read, the scheduler's own listing is returned instead.
// An empty result always means the cluster has no tasks.
func (r *Reconciler) ListTasks(ctx context.Context, clusterID string) ([]*types.Task, error) {
	logger := log.WithClusterID(r.logger, clusterID)

	rows, err := r.tracking.List(ctx, clusterID)
	if err != nil && !errdefs.IsNotFound(err) {
		logger.Warn().Err(err).Msg("Tracking store unavailable, listing from scheduler")
	}
	if err != nil || len(rows) == 0 {
		metrics.ReconcilerSourceTotal.WithLabelValues(SourceScheduler).Inc()
		return r.ListSchedulerTasks(ctx, clusterID)
	}

	metrics.ReconcilerSourceTotal.WithLabelValues(SourceTracking).Inc()
	native, err := r.scheduler.ListTasks(ctx, clusterID)
	if err != nil {
		err = scheduler.Classify("list tasks", err)
		if errdefs.IsNotFound(err) {
			// The job is gone; the tracking rows are all that is left
			return rows, nil
		}
		return nil, err
	}

	byID := make(map[string]*scheduler.Task, len(native))
	for _, t := range native {
		byID[t.ID] = t
	}

	for i, row := range rows {
		t, ok := byID[row.ID]
		if !ok {
			continue
		}
		merged, newer := overlay(row, t.Project(clusterID))
		rows[i] = merged
		if newer {
			r.repair(ctx, clusterID, merged)
		}
	}
	return rows, nil
}

// overlay applies the scheduler's view of a task to its tracking row and
// reports whether the scheduler has seen a later transition
func overlay(row, sched *types.Task) (*types.Task, bool) {
	merged := *row
	merged.State = sched.State
	merged.ExitCode = sched.ExitCode
	if merged.NodeID == "" {
		merged.NodeID = sched.NodeID
	}

	newer := sched.StateTransitionTime.After(row.StateTransitionTime)
	if newer {
		merged.StateTransitionTime = sched.StateTransitionTime
		merged.EndTime = sched.EndTime
		merged.FailureInfo = sched.FailureInfo
	}
	return &merged, newer
}

func (r *Reconciler) repair(ctx context.Context, clusterID string, task *types.Task) {
	logger := log.WithTaskID(r.logger, clusterID, task.ID)
	if err := r.tracking.Update(ctx, clusterID, task); err != nil {
		logger.Warn().Err(err).Msg("Read repair failed")
		return
	}
	metrics.ReadRepairsTotal.Inc()
	logger.Debug().Str("state", string(task.State)).Msg("Read repair")
}

// GetRecentJob returns the job a job schedule most recently ran
func (r *Reconciler) GetRecentJob(ctx context.Context, scheduleID string) (*types.Job, error) {
	schedule, err := r.scheduler.GetJobSchedule(ctx, scheduleID)
	if err != nil {
		return nil, scheduler.Classify("get recent job", err)
	}
	if schedule.RecentJobID == "" {
		return nil, errdefs.NotFound("get recent job", "job schedule %s has not run a job yet", scheduleID)
	}
	job, err := r.scheduler.GetJob(ctx, schedule.RecentJobID)
	if err != nil {
		return nil, scheduler.Classify("get recent job", err)
	}
	return job, nil
}

// WaitForTask polls the scheduler until the task completes or fails
func (r *Reconciler) WaitForTask(ctx context.Context, clusterID, taskID string, interval time.Duration) (types.TaskState, error) {
	if interval <= 0 {
		return "", errdefs.Validation("wait for task", "poll interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := r.GetTaskState(ctx, clusterID, taskID)
		if err != nil {
			return "", err
		}
		if state.Terminal() {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, errdefs.Timeout("wait for task", ctx.Err(), "task %s still %s", taskID, state)
		case <-ticker.C:
		}
	}
}

// Sync copies the scheduler's tasks into the cluster's tracking table,
// inserting missing rows and advancing stale ones. It returns how many rows
// were written.
func (r *Reconciler) Sync(ctx context.Context, clusterID string) (int, error) {
	tasks, err := r.ListSchedulerTasks(ctx, clusterID)
	if err != nil {
		return 0, err
	}
	if err := r.tracking.CreateTable(ctx, clusterID); err != nil {
		return 0, err
	}

	written := 0
	for _, task := range tasks {
		stored, err := r.tracking.Get(ctx, clusterID, task.ID)
		switch {
		case errdefs.IsNotFound(err):
			err = r.tracking.Insert(ctx, clusterID, task)
			if err == nil {
				r.publish(clusterID, events.EventTaskCreated, task, "")
			}
		case err != nil:
			return written, err
		case stored.State == task.State && !task.StateTransitionTime.After(stored.StateTransitionTime):
			continue
		default:
			err = r.tracking.Update(ctx, clusterID, task)
			if errdefs.IsConflict(err) {
				// The row is already ahead of the scheduler
				continue
			}
			if err == nil && stored.State != task.State {
				r.publish(clusterID, events.TypeForState(task.State), task, stored.State)
			}
		}
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (r *Reconciler) publish(clusterID string, t events.EventType, task *types.Task, previous types.TaskState) {
	r.mu.Lock()
	b := r.broker
	r.mu.Unlock()
	if b == nil {
		return
	}
	b.Publish(&events.Event{
		Type:      t,
		ClusterID: clusterID,
		TaskID:    task.ID,
		State:     task.State,
		Previous:  previous,
	})
}

// Start begins syncing the given clusters every interval. It fails with a
// Conflict if the loop is already running.
func (r *Reconciler) Start(interval time.Duration, clusterIDs ...string) error {
	if interval <= 0 {
		return errdefs.Validation("start reconciler", "sync interval must be positive, got %s", interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return errdefs.Conflict("start reconciler", "reconciler is already running")
	}
	r.clusters = clusterIDs
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(interval, r.stopCh, r.doneCh)
	return nil
}

// Stop stops the sync loop and waits for it to exit
func (r *Reconciler) Stop() {
	r.mu.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.stopCh = nil
	r.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// run is the main sync loop
func (r *Reconciler) run(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.reconcile()
		select {
		case <-ticker.C:
		case <-stopCh:
			return
		}
	}
}

// reconcile performs one sync cycle over every cluster
func (r *Reconciler) reconcile() {
	r.mu.Lock()
	clusters := append([]string(nil), r.clusters...)
	r.mu.Unlock()

	for _, id := range clusters {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := r.Sync(ctx, id)
		cancel()
		logger := log.WithClusterID(r.logger, id)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to sync tracking table")
			continue
		}
		logger.Debug().Int("written", n).Msg("Tracking table synced")
	}
}
