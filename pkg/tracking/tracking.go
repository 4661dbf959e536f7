package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Store keeps one table of Task records per cluster. It is a secondary
// index of the scheduler's task records; the reconciler resolves any
// disagreement between the two.
type Store struct {
	tables storage.TableStore
	logger zerolog.Logger
}

// NewStore creates a tracking store over a table store
func NewStore(tables storage.TableStore) *Store {
	return &Store{
		tables: tables,
		logger: log.WithComponent("tracking"),
	}
}

func record(op string, err error) {
	metrics.TrackingOperationsTotal.WithLabelValues(op, metrics.Result(err)).Inc()
}

// CreateTable creates the cluster's table. It is a no-op if the table exists.
func (s *Store) CreateTable(ctx context.Context, clusterID string) error {
	if clusterID == "" {
		return errdefs.Validation("create table", "cluster id is required")
	}
	err := s.tables.CreateTable(ctx, clusterID)
	record("create_table", err)
	if err == nil {
		s.logger.Debug().Str("cluster_id", clusterID).Msg("Tracking table ready")
	}
	return err
}

// DeleteTable drops the cluster's table and every task in it. This is the
// only way tasks are ever removed.
func (s *Store) DeleteTable(ctx context.Context, clusterID string) (bool, error) {
	deleted, err := s.tables.DeleteTable(ctx, clusterID)
	record("delete_table", err)
	if deleted {
		s.logger.Info().Str("cluster_id", clusterID).Msg("Tracking table deleted")
	}
	return deleted, err
}

// TableExists reports whether the cluster has a table
func (s *Store) TableExists(ctx context.Context, clusterID string) (bool, error) {
	return s.tables.TableExists(ctx, clusterID)
}

// Insert adds a task. It fails with a Conflict if the task id is taken.
func (s *Store) Insert(ctx context.Context, clusterID string, task *types.Task) error {
	data, err := encode("insert task", clusterID, task)
	if err != nil {
		return err
	}
	err = s.tables.InsertRow(ctx, clusterID, task.ID, data)
	record("insert", err)
	return err
}

// Update replaces a task. It fails with NotFound if the task is absent and
// with a Conflict if the update's state transition time is older than the
// stored one. Concurrent updates with equal or newer times are
// last-write-wins.
func (s *Store) Update(ctx context.Context, clusterID string, task *types.Task) error {
	data, err := encode("update task", clusterID, task)
	if err != nil {
		return err
	}

	err = s.tables.UpdateRow(ctx, clusterID, task.ID, func(current []byte) ([]byte, error) {
		var stored types.Task
		if err := json.Unmarshal(current, &stored); err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", task.ID, err)
		}
		if task.StateTransitionTime.Before(stored.StateTransitionTime) {
			return nil, errdefs.Conflict("update task",
				"stale update for task %s: transition at %s is older than stored %s",
				task.ID, task.StateTransitionTime, stored.StateTransitionTime)
		}
		return data, nil
	})
	record("update", err)
	return err
}

// Get returns one task
func (s *Store) Get(ctx context.Context, clusterID, taskID string) (*types.Task, error) {
	data, err := s.tables.GetRow(ctx, clusterID, taskID)
	record("get", err)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// List returns every task of the cluster, ordered by task id
func (s *Store) List(ctx context.Context, clusterID string) ([]*types.Task, error) {
	rows, err := s.tables.ListRows(ctx, clusterID)
	record("list", err)
	if err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(rows))
	for _, row := range rows {
		task, err := decode(row.Value)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func encode(op, clusterID string, task *types.Task) ([]byte, error) {
	if task == nil || task.ID == "" {
		return nil, errdefs.Validation(op, "task id is required")
	}
	if task.ClusterID != "" && task.ClusterID != clusterID {
		return nil, errdefs.Validation(op, "task %s belongs to cluster %s, not %s", task.ID, task.ClusterID, clusterID)
	}
	t := *task
	t.ClusterID = clusterID
	data, err := json.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*types.Task, error) {
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}
