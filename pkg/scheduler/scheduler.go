package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

// Error codes surfaced by scheduler clients
const (
	CodePoolNotFound        = "PoolNotFound"
	CodeNodeNotFound        = "NodeNotFound"
	CodeJobNotFound         = "JobNotFound"
	CodeTaskNotFound        = "TaskNotFound"
	CodeJobScheduleNotFound = "JobScheduleNotFound"
	CodeNodeUserNotFound    = "NodeUserNotFound"
	CodeUserExists          = "UserExists"
	CodeNodeNotReady        = "NodeNotReady"
	CodeCommandFailed       = "CommandFailed"
)

// Error is an error reported by the scheduler, carrying its code
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a scheduler error with the given code
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the scheduler code in err's chain, or ""
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isNotFound(code string) bool {
	switch code {
	case CodePoolNotFound, CodeNodeNotFound, CodeJobNotFound, CodeTaskNotFound,
		CodeJobScheduleNotFound, CodeNodeUserNotFound:
		return true
	}
	return false
}

// Classify maps an error returned by a Client onto the errdefs taxonomy.
// Errors that are already classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *errdefs.Error
	if errors.As(err, &classified) {
		return err
	}

	var se *Error
	if errors.As(err, &se) {
		var e *errdefs.Error
		switch {
		case isNotFound(se.Code):
			e = errdefs.NotFound(op, "%s", se.Message)
		case se.Code == CodeUserExists:
			e = errdefs.Conflict(op, "%s", se.Message)
		default:
			return errdefs.Scheduler(op, se.Code, se)
		}
		e.Code = se.Code
		e.Err = se
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Timeout(op, err, "scheduler request timed out")
	}
	return errdefs.Scheduler(op, "", err)
}

// Client is the scheduler collaborator. Pools are keyed by cluster id and
// a cluster's tasks live in the job of the same id. Implementations must be
// safe for concurrent use.
type Client interface {
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	ListNodes(ctx context.Context, poolID string) ([]*types.Node, error)
	GetNode(ctx context.Context, poolID, nodeID string) (*types.Node, error)
	GetRemoteLoginSettings(ctx context.Context, poolID, nodeID string) (*types.RemoteLogin, error)

	AddNodeUser(ctx context.Context, poolID, nodeID string, user NodeUser) error
	DeleteNodeUser(ctx context.Context, poolID, nodeID, username string) error
	GetNodeUser(ctx context.Context, poolID, nodeID, username string) (*NodeUser, error)

	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	GetTask(ctx context.Context, jobID, taskID string) (*Task, error)
	ListTasks(ctx context.Context, jobID string) ([]*Task, error)
	GetJobSchedule(ctx context.Context, scheduleID string) (*JobSchedule, error)
}

// PasswordVerifier is implemented by clients whose GetNodeUser cannot return
// a user's password. It checks a candidate password against the hash stored
// on the node.
type PasswordVerifier interface {
	VerifyNodeUserPassword(ctx context.Context, poolID, nodeID, username, password string) (bool, error)
}

// Pool is the scheduler's record of a cluster
type Pool struct {
	ID       string
	VMSize   string
	Metadata map[string]string
}

// NodeUser is an OS-level account on a compute node
type NodeUser struct {
	Name       string
	PublicKey  string
	Password   string
	IsAdmin    bool
	ExpiryTime time.Time
}

// JobSchedule is a recurring job definition
type JobSchedule struct {
	ID          string
	RecentJobID string
}

// TaskState is the scheduler-native state of a task
type TaskState string

const (
	TaskStateActive    TaskState = "active"
	TaskStatePreparing TaskState = "preparing"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
)

// Task is the scheduler's native task record
type Task struct {
	ID                  string
	State               TaskState
	NodeID              string
	CommandLine         string
	CreationTime        time.Time
	StartTime           time.Time
	EndTime             time.Time
	StateTransitionTime time.Time
	ExitCode            *int
	FailureInfo         *types.FailureInfo
}

// Project converts the native record into a tracking Task. A completed task
// with a failure or a non-zero exit code is Failed.
func (t *Task) Project(clusterID string) *types.Task {
	task := &types.Task{
		ClusterID:           clusterID,
		ID:                  t.ID,
		NodeID:              t.NodeID,
		CommandLine:         t.CommandLine,
		StartTime:           t.StartTime,
		EndTime:             t.EndTime,
		StateTransitionTime: t.StateTransitionTime,
		FailureInfo:         t.FailureInfo,
	}
	if t.ExitCode != nil {
		code := *t.ExitCode
		task.ExitCode = &code
	}

	switch t.State {
	case TaskStateRunning:
		task.State = types.TaskStateRunning
	case TaskStateCompleted:
		if t.FailureInfo != nil || (t.ExitCode != nil && *t.ExitCode != 0) {
			task.State = types.TaskStateFailed
		} else {
			task.State = types.TaskStateCompleted
		}
	default:
		task.State = types.TaskStatePreparing
	}
	return task
}

// LoadCluster reads a cluster's pool and nodes from the scheduler
func LoadCluster(ctx context.Context, c Client, clusterID string) (*types.Cluster, error) {
	pool, err := c.GetPool(ctx, clusterID)
	if err != nil {
		return nil, Classify("get cluster", err)
	}
	nodes, err := c.ListNodes(ctx, clusterID)
	if err != nil {
		return nil, Classify("get cluster", err)
	}
	return types.NewCluster(pool.ID, pool.VMSize, pool.Metadata, nodes), nil
}
