package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/clusterdata"
	"github.com/cuemby/burrow/pkg/credentials"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/logs"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/remotelogin"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/tracking"
	"github.com/cuemby/burrow/pkg/types"
)

// Operations is the entry point for everything burrow does to a cluster.
// Node commands run as a temporary user created for the call and removed
// afterwards.
type Operations struct {
	scheduler scheduler.Client
	executor  *fanout.Executor
	resolver  *remotelogin.Resolver

	Credentials *credentials.Manager
	Tracking    *tracking.Store
	Reconciler  *reconciler.Reconciler
	Logs        *logs.Service
	Data        *clusterdata.Data

	logger zerolog.Logger
}

// Deps are the components Operations is built from
type Deps struct {
	Scheduler   scheduler.Client
	Executor    *fanout.Executor
	Resolver    *remotelogin.Resolver
	Credentials *credentials.Manager
	Tracking    *tracking.Store
	Reconciler  *reconciler.Reconciler
	Logs        *logs.Service
	Data        *clusterdata.Data
}

// New creates the operations facade
func New(deps Deps) *Operations {
	return &Operations{
		scheduler:   deps.Scheduler,
		executor:    deps.Executor,
		resolver:    deps.Resolver,
		Credentials: deps.Credentials,
		Tracking:    deps.Tracking,
		Reconciler:  deps.Reconciler,
		Logs:        deps.Logs,
		Data:        deps.Data,
		logger:      log.WithComponent("cluster"),
	}
}

// RunOptions tune a cluster or node command
type RunOptions struct {
	NodeIDs   []string
	Container string
	Internal  bool
	Timeout   time.Duration
}

// GetCluster returns a cluster and its nodes
func (o *Operations) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	return scheduler.LoadCluster(ctx, o.scheduler, clusterID)
}

// GetConfig returns the configuration a cluster was created with
func (o *Operations) GetConfig(ctx context.Context, clusterID string) (*clusterdata.ClusterConfiguration, error) {
	if o.Data == nil {
		return nil, errdefs.NotFound("get cluster config", "no cluster data store configured")
	}
	return o.Data.ReadConfig(ctx, clusterID)
}

// SetConfig records the configuration of a cluster the scheduler knows
func (o *Operations) SetConfig(ctx context.Context, cfg *clusterdata.ClusterConfiguration) error {
	if o.Data == nil {
		return errdefs.Validation("set cluster config", "no cluster data store configured")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := o.GetCluster(ctx, cfg.ClusterID); err != nil {
		return err
	}
	return o.Data.SaveConfig(ctx, cfg)
}

// DeleteConfig removes the stored configuration and key pair of a cluster
func (o *Operations) DeleteConfig(ctx context.Context, clusterID string) error {
	if o.Data == nil {
		return errdefs.Validation("delete cluster config", "no cluster data store configured")
	}
	if err := o.Data.Delete(ctx, clusterID); err != nil {
		return err
	}
	o.logger.Info().Str("cluster_id", clusterID).Msg("Cluster data deleted")
	return nil
}

// ClusterKey returns the cluster's SSH key pair, generating it on first use
func (o *Operations) ClusterKey(ctx context.Context, clusterID string) (*security.KeyPair, error) {
	if o.Data == nil {
		return nil, errdefs.Validation("cluster key", "no cluster data store configured")
	}
	if _, err := o.GetCluster(ctx, clusterID); err != nil {
		return nil, err
	}
	return o.Data.EnsureKeyPair(ctx, clusterID)
}

// Run executes command on the cluster's nodes and returns one output per
// targeted node
func (o *Operations) Run(ctx context.Context, clusterID, command string, opts RunOptions) (fanout.Results, error) {
	cluster, err := o.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	return o.withEphemeralUser(ctx, cluster, command, opts, fanout.Options{Operation: "run"})
}

// NodeRun executes command on a single node
func (o *Operations) NodeRun(ctx context.Context, clusterID, nodeID, command string, opts RunOptions) (types.NodeOutput, error) {
	cluster, err := o.GetCluster(ctx, clusterID)
	if err != nil {
		return types.NodeOutput{}, err
	}
	if cluster.Node(nodeID) == nil {
		return types.NodeOutput{}, errdefs.NotFound("node run", "node %s not found in cluster %s", nodeID, clusterID)
	}

	opts.NodeIDs = []string{nodeID}
	results, err := o.withEphemeralUser(ctx, cluster, command, opts, fanout.Options{Operation: "node_run"})
	if err != nil {
		return types.NodeOutput{}, err
	}
	out, _ := results.Node(nodeID)
	return out, nil
}

// Copy writes the local file source to destination on the cluster's nodes
func (o *Operations) Copy(ctx context.Context, clusterID, source, destination string, opts RunOptions) (fanout.Results, error) {
	if destination == "" {
		return nil, errdefs.Validation("copy", "destination path is required")
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, errdefs.Validation("copy", "failed to read %s: %v", source, err)
	}
	cluster, err := o.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	command := fmt.Sprintf("mkdir -p %s && cat > %s", remote.Quote(path.Dir(destination)), remote.Quote(destination))
	o.logger.Debug().Str("cluster_id", clusterID).Str("destination", destination).Int("bytes", len(data)).Msg("Copying file")

	return o.withEphemeralUser(ctx, cluster, command, opts, fanout.Options{
		Operation: "copy",
		Stdin:     func() io.Reader { return bytes.NewReader(data) },
	})
}

// withEphemeralUser creates a temporary user on the targeted nodes, runs
// command as that user, then removes it. Nodes where the user could not be
// created report that failure as their output.
func (o *Operations) withEphemeralUser(ctx context.Context, cluster *types.Cluster, command string, opts RunOptions, fo fanout.Options) (fanout.Results, error) {
	cred, report, err := o.Credentials.GenerateUserOnCluster(ctx, cluster, opts.NodeIDs)
	if err != nil {
		return nil, err
	}
	defer o.removeUser(cluster, cred.Username, report.Succeeded())

	fo.NodeIDs = report.Succeeded()
	fo.Internal = opts.Internal
	fo.Container = opts.Container
	fo.Timeout = opts.Timeout
	fo.Credentials = remote.Credentials{Username: cred.Username, PrivateKeyPEM: cred.PrivateKeyPEM}

	var results fanout.Results
	if len(fo.NodeIDs) > 0 {
		results = o.executor.RunOnNodes(ctx, cluster, command, fo)
	}
	for nodeID, err := range report.Failed() {
		results = append(results, types.NodeOutput{
			NodeID: nodeID,
			Err:    fmt.Errorf("failed to create user %s: %w", cred.Username, err),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].NodeID < results[j].NodeID })
	return results, nil
}

// removeUser deletes the temporary user. Failures are logged and otherwise
// ignored; the user expires on its own.
func (o *Operations) removeUser(cluster *types.Cluster, username string, nodeIDs []string) {
	if len(nodeIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := o.Credentials.DeleteUserOnCluster(ctx, cluster, nodeIDs, username)
	if err != nil {
		o.logger.Warn().Err(err).Str("cluster_id", cluster.ID).Str("username", username).Msg("Failed to remove temporary user")
		return
	}
	for nodeID, err := range report.Failed() {
		logger := log.WithNodeID(o.logger, cluster.ID, nodeID)
		logger.Warn().
			Err(err).
			Str("username", username).
			Msg("Failed to remove temporary user")
	}
}

// SSHIntoNode creates a user on a node and returns how to connect to it
// with the given port forwards. Without a public key or password the user
// gets the cluster's own key, see ClusterKey.
func (o *Operations) SSHIntoNode(ctx context.Context, clusterID, nodeID, username, publicKey, password string, internal bool, forwards []types.PortForwardingSpecification) (remotelogin.TunnelSpec, error) {
	if publicKey == "" && password == "" && o.Data != nil {
		kp, err := o.ClusterKey(ctx, clusterID)
		if err != nil {
			return remotelogin.TunnelSpec{}, err
		}
		publicKey = kp.PublicKey
	}
	if err := o.Credentials.CreateUser(ctx, clusterID, nodeID, username, publicKey, password); err != nil {
		return remotelogin.TunnelSpec{}, err
	}
	login, err := o.resolver.GetRemoteLogin(ctx, clusterID, nodeID, internal)
	if err != nil {
		return remotelogin.TunnelSpec{}, err
	}
	return remotelogin.BuildTunnelSpec(login, forwards), nil
}

// HealthOptions select how nodes are probed. With HTTPPort set the web UI on
// that port of each node's internal address is checked; otherwise the node's
// SSH port is dialed.
type HealthOptions struct {
	NodeIDs  []string
	Internal bool
	HTTPPort int
	Timeout  time.Duration
}

// CheckHealth probes the cluster's nodes and returns one result per node
func (o *Operations) CheckHealth(ctx context.Context, clusterID string, opts HealthOptions) ([]health.NodeResult, error) {
	cluster, err := o.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	return health.CheckNodes(ctx, cluster, opts.NodeIDs, o.executor.MaxConcurrency(), func(ctx context.Context, node *types.Node) (health.Checker, error) {
		if opts.HTTPPort > 0 {
			url := fmt.Sprintf("http://%s/", net.JoinHostPort(node.InternalIP, strconv.Itoa(opts.HTTPPort)))
			return health.NewHTTPChecker(url).WithTimeout(opts.Timeout), nil
		}
		login, err := o.resolver.Resolve(ctx, cluster, node.ID, opts.Internal)
		if err != nil {
			return nil, err
		}
		addr := net.JoinHostPort(login.IPAddress, strconv.Itoa(login.Port))
		return health.NewTCPChecker(addr).WithTimeout(opts.Timeout), nil
	}), nil
}

// GetRemoteLogin resolves the address of a node
func (o *Operations) GetRemoteLogin(ctx context.Context, clusterID, nodeID string, internal bool) (types.RemoteLogin, error) {
	return o.resolver.GetRemoteLogin(ctx, clusterID, nodeID, internal)
}

// GetApplicationLog returns an application's output, see logs.Service
func (o *Operations) GetApplicationLog(ctx context.Context, clusterID, appName string, tail bool, currentBytes int64) (*types.ApplicationLog, error) {
	return o.Logs.GetApplicationLog(ctx, clusterID, appName, tail, currentBytes)
}

// ListTasks returns a cluster's tasks, see reconciler.ListTasks
func (o *Operations) ListTasks(ctx context.Context, clusterID string) ([]*types.Task, error) {
	return o.Reconciler.ListTasks(ctx, clusterID)
}

// GetTaskState returns the scheduler's current state of a task
func (o *Operations) GetTaskState(ctx context.Context, clusterID, taskID string) (types.TaskState, error) {
	return o.Reconciler.GetTaskState(ctx, clusterID, taskID)
}
