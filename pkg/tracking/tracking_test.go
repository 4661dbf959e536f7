package tracking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	bolt, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	s := NewStore(bolt)
	require.NoError(t, s.CreateTable(context.Background(), "c1"))
	return s
}

func task(id string, state types.TaskState, at time.Time) *types.Task {
	code := 0
	return &types.Task{
		ClusterID:           "c1",
		ID:                  id,
		State:               state,
		NodeID:              "n1",
		CommandLine:         "spark-submit app.py",
		StartTime:           t0,
		ExitCode:            &code,
		StateTransitionTime: at,
	}
}

func TestInsertGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	want := task("t1", types.TaskStateRunning, t0)
	want.FailureInfo = &types.FailureInfo{Category: "user", Code: "E1", Message: "bad"}
	require.NoError(t, s.Insert(ctx, "c1", want))

	got, err := s.Get(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInsertDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Insert(ctx, "c1", task("t1", types.TaskStateRunning, t0)))
	err := s.Insert(ctx, "c1", task("t1", types.TaskStatePreparing, t0))
	assert.True(t, errdefs.IsConflict(err))
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	err := newStore(t).Update(context.Background(), "c1", task("t1", types.TaskStateRunning, t0))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Insert(ctx, "c1", task("t1", types.TaskStateRunning, t0)))

	done := task("t1", types.TaskStateCompleted, t0.Add(time.Minute))
	done.EndTime = t0.Add(time.Minute)
	require.NoError(t, s.Update(ctx, "c1", done))

	got, err := s.Get(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, got.State)

	// Equal transition time: last write wins
	failed := task("t1", types.TaskStateFailed, t0.Add(time.Minute))
	require.NoError(t, s.Update(ctx, "c1", failed))
	got, err = s.Get(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateFailed, got.State)
}

func TestUpdateRejectsOlderTransition(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Insert(ctx, "c1", task("t1", types.TaskStateCompleted, t0.Add(time.Hour))))

	err := s.Update(ctx, "c1", task("t1", types.TaskStateRunning, t0))
	assert.True(t, errdefs.IsConflict(err))

	got, err := s.Get(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, got.State)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	want := make(map[string]*types.Task)
	for i := 1; i <= 5; i++ {
		tk := task(fmt.Sprintf("t%d", i), types.TaskStateRunning, t0)
		want[tk.ID] = tk
		require.NoError(t, s.Insert(ctx, "c1", tk))
	}

	tasks, err := s.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, len(want))
	for _, got := range tasks {
		assert.Equal(t, want[got.ID], got)
	}
}

func TestListEmptyAndMissingTable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tasks, err := s.List(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = s.List(ctx, "c2")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteTableRemovesTasks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Insert(ctx, "c1", task("t1", types.TaskStateRunning, t0)))

	deleted, err := s.DeleteTable(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := s.TableExists(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, "c1", "t1")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	assert.True(t, errdefs.IsValidation(s.Insert(ctx, "c1", &types.Task{})))
	assert.True(t, errdefs.IsValidation(s.Insert(ctx, "c1", &types.Task{ID: "t1", ClusterID: "c2"})))
	assert.True(t, errdefs.IsValidation(s.CreateTable(ctx, "")))
}

func TestInsertFillsClusterID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Insert(ctx, "c1", &types.Task{ID: "t1", State: types.TaskStatePreparing}))

	got, err := s.Get(ctx, "c1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClusterID)
}
