package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/types"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

func unhealthy(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// NodeResult is the outcome of checking one node
type NodeResult struct {
	NodeID string
	Type   CheckType
	Result
}

// CheckerFunc builds the checker for a node
type CheckerFunc func(ctx context.Context, node *types.Node) (Checker, error)

// CheckNodes runs a check against the given nodes of a cluster, or every
// node, with at most limit checks in flight. Results are sorted by node id;
// a node that is unknown or whose checker cannot be built is unhealthy.
func CheckNodes(ctx context.Context, cluster *types.Cluster, nodeIDs []string, limit int, build CheckerFunc) []NodeResult {
	ids := fanout.TargetIDs(cluster, nodeIDs)
	byNode := fanout.Map(ctx, limit, ids, func(ctx context.Context, id string) NodeResult {
		start := time.Now()
		node := cluster.Node(id)
		if node == nil {
			return NodeResult{NodeID: id, Result: unhealthy(start, "node %s not found in cluster %s", id, cluster.ID)}
		}
		checker, err := build(ctx, node)
		if err != nil {
			return NodeResult{NodeID: id, Result: unhealthy(start, "%v", err)}
		}
		return NodeResult{NodeID: id, Type: checker.Type(), Result: checker.Check(ctx)}
	})

	results := make([]NodeResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, byNode[id])
	}
	sort.Slice(results, func(i, j int) bool { return results[i].NodeID < results[j].NodeID })
	return results
}
