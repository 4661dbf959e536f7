package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultMaxConcurrency bounds in-flight node operations when none is configured
const DefaultMaxConcurrency = 16

// LoginResolver resolves the address of a node in a loaded cluster
type LoginResolver interface {
	Resolve(ctx context.Context, cluster *types.Cluster, nodeID string, internal bool) (types.RemoteLogin, error)
}

// Options select the target nodes and tune each execution
type Options struct {
	// NodeIDs restricts the operation to a subset of the cluster. Empty
	// means every node.
	NodeIDs []string

	// Internal connects on node internal addresses instead of the
	// scheduler's external remote login
	Internal bool

	Container   string
	Timeout     time.Duration
	Credentials remote.Credentials

	// Stdin, when set, is called once per node for a fresh reader
	Stdin func() io.Reader

	// Operation labels metrics and logs, "run" by default
	Operation string
}

// Results holds exactly one NodeOutput per targeted node, sorted by node id
type Results []types.NodeOutput

// Errors returns the outputs of nodes where the command could not run
func (r Results) Errors() Results {
	var out Results
	for _, o := range r {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// OK returns the outputs of nodes where the command ran
func (r Results) OK() Results {
	var out Results
	for _, o := range r {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}

// Node returns the output for one node
func (r Results) Node(id string) (types.NodeOutput, bool) {
	for _, o := range r {
		if o.NodeID == id {
			return o, true
		}
	}
	return types.NodeOutput{}, false
}

// Err joins every per-node error, or returns nil when all nodes ran
func (r Results) Err() error {
	var errs []error
	for _, o := range r {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", o.NodeID, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Executor runs commands across the nodes of a cluster
type Executor struct {
	channel  remote.Channel
	resolver LoginResolver
	limit    int
	logger   zerolog.Logger
}

// NewExecutor creates an executor running at most maxConcurrency node
// operations at once
func NewExecutor(channel remote.Channel, resolver LoginResolver, maxConcurrency int) *Executor {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Executor{
		channel:  channel,
		resolver: resolver,
		limit:    maxConcurrency,
		logger:   log.WithComponent("fanout"),
	}
}

// MaxConcurrency returns the executor's concurrency bound
func (e *Executor) MaxConcurrency() int {
	return e.limit
}

// RunOnNodes executes command on every targeted node concurrently. A node's
// failure is recorded in its NodeOutput and never affects the others.
func (e *Executor) RunOnNodes(ctx context.Context, cluster *types.Cluster, command string, opts Options) Results {
	op := opts.Operation
	if op == "" {
		op = "run"
	}
	metrics.FanoutOperationsTotal.WithLabelValues(op).Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FanoutDuration, op)

	ids := TargetIDs(cluster, opts.NodeIDs)
	logger := log.WithClusterID(e.logger, cluster.ID).With().Str("operation", op).Logger()
	logger.Debug().Int("nodes", len(ids)).Int("max_concurrency", e.limit).Msg("Dispatching")

	outputs := Map(ctx, e.limit, ids, func(ctx context.Context, id string) types.NodeOutput {
		return e.runOne(ctx, cluster, id, command, opts)
	})

	results := make(Results, 0, len(ids))
	for _, id := range ids {
		out := outputs[id]
		metrics.FanoutNodeResultsTotal.WithLabelValues(op, metrics.Result(out.Err)).Inc()
		if out.Err != nil {
			logger.Warn().Err(out.Err).Str("node_id", id).Msg("Node operation failed")
		}
		results = append(results, out)
	}

	logger.Debug().
		Int("failed", len(results.Errors())).
		Dur("duration", timer.Duration()).
		Msg("Fan-out complete")
	return results
}

// RunOnNode executes command on a single node of the cluster
func (e *Executor) RunOnNode(ctx context.Context, cluster *types.Cluster, nodeID, command string, opts Options) types.NodeOutput {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FanoutDuration, "node_run")

	out := e.runOne(ctx, cluster, nodeID, command, opts)
	metrics.FanoutNodeResultsTotal.WithLabelValues("node_run", metrics.Result(out.Err)).Inc()
	return out
}

func (e *Executor) runOne(ctx context.Context, cluster *types.Cluster, nodeID, command string, opts Options) types.NodeOutput {
	if cluster.Node(nodeID) == nil {
		return types.NodeOutput{
			NodeID: nodeID,
			Err:    errdefs.NotFound("run on node", "node %s not found in cluster %s", nodeID, cluster.ID),
		}
	}

	login, err := e.resolver.Resolve(ctx, cluster, nodeID, opts.Internal)
	if err != nil {
		return types.NodeOutput{NodeID: nodeID, Err: err}
	}

	var stdin io.Reader
	if opts.Stdin != nil {
		stdin = opts.Stdin()
	}

	target := remote.Target{NodeID: nodeID, Address: login.IPAddress, Port: login.Port}
	out := e.channel.Execute(ctx, target, command, opts.Credentials, remote.ExecOptions{
		Timeout:   opts.Timeout,
		Container: opts.Container,
		Stdin:     stdin,
	})
	out.NodeID = nodeID
	return out
}

// TargetIDs returns the sorted, de-duplicated node ids an operation targets
func TargetIDs(cluster *types.Cluster, subset []string) []string {
	if len(subset) == 0 {
		return cluster.NodeIDs()
	}
	seen := make(map[string]bool, len(subset))
	ids := make([]string, 0, len(subset))
	for _, id := range subset {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Map calls fn for every id with at most limit calls in flight and returns
// the results keyed by id. fn owns its failures: every id gets a result.
func Map[T any](ctx context.Context, limit int, ids []string, fn func(context.Context, string) T) map[string]T {
	var (
		mu  sync.Mutex
		out = make(map[string]T, len(ids))
	)

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, id := range ids {
		g.Go(func() error {
			r := fn(ctx, id)
			mu.Lock()
			out[id] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}
