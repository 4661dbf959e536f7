package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/tracking"
	"github.com/cuemby/burrow/pkg/types"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

type fixture struct {
	sched *scheduler.Memory
	store *tracking.Store
	rec   *Reconciler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	bolt, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	sched := scheduler.NewMemory()
	sched.AddPool(&scheduler.Pool{ID: "c1"}, &types.Node{ID: "n1"})
	store := tracking.NewStore(bolt)
	return &fixture{sched: sched, store: store, rec: NewReconciler(sched, store)}
}

func TestGetTaskState(t *testing.T) {
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateCompleted, ExitCode: intPtr(2)})

	state, err := f.rec.GetTaskState(context.Background(), "c1", "app1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateFailed, state)

	_, err = f.rec.GetTaskState(context.Background(), "c1", "nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListTasksFallsBackToScheduler(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning})
	f.sched.PutTask("c1", &scheduler.Task{ID: "app2", State: scheduler.TaskStateActive})

	// No table at all
	tasks, err := f.rec.ListTasks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, types.TaskStateRunning, tasks[0].State)
	assert.Equal(t, types.TaskStatePreparing, tasks[1].State)

	// Empty table
	require.NoError(t, f.store.CreateTable(ctx, "c1"))
	tasks, err = f.rec.ListTasks(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestListTasksPrefersTrackingAndOverlaysState(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.store.CreateTable(ctx, "c1"))

	require.NoError(t, f.store.Insert(ctx, "c1", &types.Task{ID: "app1", State: types.TaskStateRunning, CommandLine: "spark-submit a.py", StateTransitionTime: t0}))
	require.NoError(t, f.store.Insert(ctx, "c1", &types.Task{ID: "app2", State: types.TaskStatePreparing, StateTransitionTime: t0}))

	// The scheduler knows app1 finished later, and has a task the table does not track
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateCompleted, ExitCode: intPtr(0), StateTransitionTime: t0.Add(time.Minute), EndTime: t0.Add(time.Minute)})
	f.sched.PutTask("c1", &scheduler.Task{ID: "other", State: scheduler.TaskStateRunning})

	tasks, err := f.rec.ListTasks(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "app1", tasks[0].ID)
	assert.Equal(t, types.TaskStateCompleted, tasks[0].State)
	assert.Equal(t, "spark-submit a.py", tasks[0].CommandLine)
	require.NotNil(t, tasks[0].ExitCode)
	assert.Equal(t, 0, *tasks[0].ExitCode)
	assert.Equal(t, types.TaskStatePreparing, tasks[1].State)

	// app1 was read-repaired
	stored, err := f.store.Get(ctx, "c1", "app1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, stored.State)
	assert.Equal(t, t0.Add(time.Minute), stored.StateTransitionTime)
}

func TestListTasksSchedulerErrorIsSurfaced(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.store.CreateTable(ctx, "c1"))
	require.NoError(t, f.store.Insert(ctx, "c1", &types.Task{ID: "app1", State: types.TaskStateRunning}))

	f.sched.Fail("ListTasks", scheduler.NewError("ServerBusy", "throttled"))
	tasks, err := f.rec.ListTasks(ctx, "c1")
	assert.Nil(t, tasks)
	assert.True(t, errdefs.IsScheduler(err))

	// Same failure with nothing tracked: the fallback fails too, not empty
	_, err = f.store.DeleteTable(ctx, "c1")
	require.NoError(t, err)
	tasks, err = f.rec.ListTasks(ctx, "c1")
	assert.Nil(t, tasks)
	assert.True(t, errdefs.IsScheduler(err))
}

func TestListTasksJobGoneKeepsTrackingRows(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.store.CreateTable(ctx, "gone"))
	require.NoError(t, f.store.Insert(ctx, "gone", &types.Task{ID: "app1", State: types.TaskStateCompleted}))

	tasks, err := f.rec.ListTasks(ctx, "gone")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.TaskStateCompleted, tasks[0].State)
}

func TestListTasksEmptyIsNotAnError(t *testing.T) {
	tasks, err := setup(t).rec.ListTasks(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestGetRecentJob(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.sched.PutJobSchedule(&scheduler.JobSchedule{ID: "nightly", RecentJobID: "nightly-7"})
	f.sched.PutJob(&types.Job{ID: "nightly-7", ScheduleID: "nightly", State: types.JobStateCompleted})
	f.sched.PutJobSchedule(&scheduler.JobSchedule{ID: "fresh"})

	job, err := f.rec.GetRecentJob(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "nightly-7", job.ID)

	_, err = f.rec.GetRecentJob(ctx, "fresh")
	assert.True(t, errdefs.IsNotFound(err))

	_, err = f.rec.GetRecentJob(ctx, "missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestWaitForTask(t *testing.T) {
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning})

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateCompleted, ExitCode: intPtr(0)})
	}()

	state, err := f.rec.WaitForTask(context.Background(), "c1", "app1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, state)
}

func TestWaitForTaskDeadline(t *testing.T) {
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	state, err := f.rec.WaitForTask(ctx, "c1", "app1", 10*time.Millisecond)
	assert.True(t, errdefs.IsTimeout(err))
	assert.Equal(t, types.TaskStateRunning, state)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning, StateTransitionTime: t0})
	f.sched.PutTask("c1", &scheduler.Task{ID: "app2", State: scheduler.TaskStateActive, StateTransitionTime: t0})

	n, err := f.rec.Sync(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateCompleted, ExitCode: intPtr(0), StateTransitionTime: t0.Add(time.Second)})
	_, err = f.rec.Sync(ctx, "c1")
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, "c1", "app1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, stored.State)
}

func TestSyncSkipsUnchangedRows(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning, StateTransitionTime: t0})

	n, err := f.rec.Sync(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.rec.Sync(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncPublishesStateChanges(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	f.rec.SetBroker(broker)

	next := func() *events.Event {
		select {
		case e := <-sub:
			return e
		case <-time.After(time.Second):
			t.Fatal("no event")
			return nil
		}
	}

	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning, StateTransitionTime: t0})
	_, err := f.rec.Sync(ctx, "c1")
	require.NoError(t, err)
	e := next()
	assert.Equal(t, events.EventTaskCreated, e.Type)
	assert.Equal(t, "c1", e.ClusterID)

	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateCompleted, ExitCode: intPtr(3), StateTransitionTime: t0.Add(time.Minute)})
	_, err = f.rec.Sync(ctx, "c1")
	require.NoError(t, err)
	e = next()
	assert.Equal(t, events.EventTaskFailed, e.Type)
	assert.Equal(t, types.TaskStateRunning, e.Previous)
	assert.Equal(t, types.TaskStateFailed, e.State)
}

func TestStartStop(t *testing.T) {
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning, StateTransitionTime: t0})

	require.NoError(t, f.rec.Start(10*time.Millisecond, "c1"))
	require.Eventually(t, func() bool {
		_, err := f.store.Get(context.Background(), "c1", "app1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	// A second Start leaves the running loop alone
	err := f.rec.Start(10*time.Millisecond, "c2")
	assert.True(t, errdefs.IsConflict(err), "got %v", err)

	f.rec.Stop()
	f.rec.Stop()

	// Stopped loops can be started again
	require.NoError(t, f.rec.Start(10*time.Millisecond, "c1"))
	f.rec.Stop()
}

func TestPollingRejectsNonPositiveInterval(t *testing.T) {
	f := setup(t)
	f.sched.PutTask("c1", &scheduler.Task{ID: "app1", State: scheduler.TaskStateRunning})

	for _, interval := range []time.Duration{0, -time.Second} {
		_, err := f.rec.WaitForTask(context.Background(), "c1", "app1", interval)
		assert.True(t, errdefs.IsValidation(err), "wait with %s: got %v", interval, err)

		err = f.rec.Start(interval, "c1")
		assert.True(t, errdefs.IsValidation(err), "start with %s: got %v", interval, err)
	}
	f.rec.Stop()
}
