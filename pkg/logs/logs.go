package logs

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultPathTemplate is where applications write their output on a node
const DefaultPathTemplate = "/mnt/burrow/applications/{app}/output.log"

// TaskSource looks up the scheduler's record of an application's task
type TaskSource interface {
	GetSchedulerTask(ctx context.Context, clusterID, taskID string) (*types.Task, error)
}

// Config configures a Service
type Config struct {
	// PathTemplate locates the log file; {app} is replaced by the
	// application name
	PathTemplate string
	Container    string
	Internal     bool
	Timeout      time.Duration
	Credentials  remote.Credentials
}

// Service retrieves application output from the node running it
type Service struct {
	tasks     TaskSource
	scheduler scheduler.Client
	executor  *fanout.Executor
	cfg       Config
	logger    zerolog.Logger
}

// NewService creates a log retrieval service
func NewService(tasks TaskSource, client scheduler.Client, executor *fanout.Executor, cfg Config) *Service {
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = DefaultPathTemplate
	}
	return &Service{
		tasks:     tasks,
		scheduler: client,
		executor:  executor,
		cfg:       cfg,
		logger:    log.WithComponent("logs"),
	}
}

// GetApplicationLog returns an application's output. Without tail the whole
// log is returned. With tail only the bytes after currentBytes are returned;
// the result's TotalBytes is the offset for the next call.
func (s *Service) GetApplicationLog(ctx context.Context, clusterID, appName string, tail bool, currentBytes int64) (*types.ApplicationLog, error) {
	if appName == "" || strings.ContainsAny(appName, "/\x00") {
		return nil, errdefs.Validation("get application log", "invalid application name %q", appName)
	}
	if currentBytes < 0 {
		return nil, errdefs.Validation("get application log", "current bytes must not be negative, got %d", currentBytes)
	}
	offset := int64(0)
	if tail {
		offset = currentBytes
	}

	task, err := s.tasks.GetSchedulerTask(ctx, clusterID, appName)
	if err != nil {
		return nil, err
	}

	result := &types.ApplicationLog{
		Name:             appName,
		ClusterID:        clusterID,
		Log:              []byte{},
		ApplicationState: types.ApplicationStateOf(task.State),
		ExitCode:         task.ExitCode,
	}
	if task.State == types.TaskStatePreparing || task.NodeID == "" {
		return result, nil
	}

	cluster, err := scheduler.LoadCluster(ctx, s.scheduler, clusterID)
	if err != nil {
		return nil, err
	}
	node := cluster.Node(task.NodeID)
	if node == nil || !node.State.Reachable() {
		return nil, errdefs.NodeUnavailable("get application log", nil,
			"node %s hosting %s is no longer available", task.NodeID, appName)
	}

	out := s.executor.RunOnNode(ctx, cluster, node.ID, readCommand(s.path(appName), offset), fanout.Options{
		Internal:    s.cfg.Internal,
		Container:   s.cfg.Container,
		Timeout:     s.cfg.Timeout,
		Credentials: s.cfg.Credentials,
		Operation:   "log",
	})
	if out.Err != nil {
		if errdefs.IsConnection(out.Err) {
			return nil, errdefs.NodeUnavailable("get application log", out.Err,
				"node %s hosting %s is unreachable", node.ID, appName)
		}
		return nil, out.Err
	}
	if out.ExitStatus != 0 {
		return nil, fmt.Errorf("reading log of %s on %s exited %d: %s", appName, node.ID, out.ExitStatus, out.Diagnostic())
	}

	total, data, err := parseReadOutput(out.Output)
	if err != nil {
		return nil, fmt.Errorf("reading log of %s on %s: %w", appName, node.ID, err)
	}
	if total < 0 {
		// No output yet
		return result, nil
	}

	metrics.LogBytesFetched.Add(float64(len(data)))
	s.logger.Debug().
		Str("cluster_id", clusterID).
		Str("app", appName).
		Int64("offset", offset).
		Int64("total_bytes", total).
		Int("bytes", len(data)).
		Msg("Fetched application log")

	result.Log = data
	result.TotalBytes = total
	return result, nil
}

// Follow writes an application's output to w as it grows, polling every
// interval, until the application completes or fails
func (s *Service) Follow(ctx context.Context, clusterID, appName string, interval time.Duration, w io.Writer) (*types.ApplicationLog, error) {
	if interval <= 0 {
		return nil, errdefs.Validation("follow application log", "poll interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var offset int64
	for {
		appLog, err := s.GetApplicationLog(ctx, clusterID, appName, true, offset)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(appLog.Log); err != nil {
			return nil, fmt.Errorf("failed to write log: %w", err)
		}
		if appLog.TotalBytes > offset {
			offset = appLog.TotalBytes
		}

		switch appLog.ApplicationState {
		case types.ApplicationStateCompleted, types.ApplicationStateFailed:
			return appLog, nil
		}

		select {
		case <-ctx.Done():
			return appLog, errdefs.Timeout("follow application log", ctx.Err(), "stopped following %s", appName)
		case <-ticker.C:
		}
	}
}

func (s *Service) path(appName string) string {
	return strings.ReplaceAll(s.cfg.PathTemplate, "{app}", appName)
}

// readCommand prints the file's size on the first line, -1 if it does not
// exist, followed by the bytes after offset. Size and bytes come from the
// same read so they stay consistent while the file grows.
func readCommand(path string, offset int64) string {
	return fmt.Sprintf(`f=%s; if [ ! -f "$f" ]; then echo -1; exit 0; fi; `+
		`s=$(wc -c < "$f" | tr -d ' '); echo "$s"; `+
		`if [ "$s" -gt %d ]; then tail -c +%d "$f" 2>/dev/null | head -c $((s-%d)); fi`,
		remote.Quote(path), offset, offset+1, offset)
}

func parseReadOutput(output string) (int64, []byte, error) {
	header, rest, found := strings.Cut(output, "\n")
	if !found {
		return 0, nil, fmt.Errorf("malformed log header %q", output)
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("malformed log size %q: %w", header, err)
	}
	return total, []byte(rest), nil
}
