package cluster

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/clusterdata"
	"github.com/cuemby/burrow/pkg/credentials"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/remotelogin"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

type call struct {
	target   remote.Target
	command  string
	username string
	stdin    string
	userSeen bool
}

// recordingChannel records each execution and whether the executing user
// existed on the node at the time
type recordingChannel struct {
	sched *scheduler.Memory

	mu    sync.Mutex
	calls []call
}

func (c *recordingChannel) Execute(ctx context.Context, target remote.Target, command string, creds remote.Credentials, opts remote.ExecOptions) types.NodeOutput {
	rec := call{target: target, command: command, username: creds.Username}
	if opts.Stdin != nil {
		data, _ := io.ReadAll(opts.Stdin)
		rec.stdin = string(data)
	}
	_, err := c.sched.GetNodeUser(ctx, "c1", target.NodeID, creds.Username)
	rec.userSeen = err == nil

	c.mu.Lock()
	c.calls = append(c.calls, rec)
	c.mu.Unlock()
	return types.NodeOutput{NodeID: target.NodeID, Output: "ok"}
}

func setup(t *testing.T) (*Operations, *scheduler.Memory, *recordingChannel) {
	t.Helper()
	sched := scheduler.NewMemory()
	sched.AddPool(&scheduler.Pool{ID: "c1", VMSize: "standard_d2_v2"},
		&types.Node{ID: "n2", InternalIP: "10.0.0.5", State: types.NodeStateIdle},
		&types.Node{ID: "n1", InternalIP: "10.0.0.4", State: types.NodeStateIdle})
	sched.SetRemoteLogin("c1", "n1", types.RemoteLogin{IPAddress: "52.1.1.1", Port: 50000})
	sched.SetRemoteLogin("c1", "n2", types.RemoteLogin{IPAddress: "52.1.1.1", Port: 50001})

	ch := &recordingChannel{sched: sched}
	resolver := remotelogin.NewResolver(sched, 0)
	ops := New(Deps{
		Scheduler:   sched,
		Executor:    fanout.NewExecutor(ch, resolver, 4),
		Resolver:    resolver,
		Credentials: credentials.NewManager(sched, 4),
	})
	return ops, sched, ch
}

func TestRunUsesTemporaryUser(t *testing.T) {
	ctx := context.Background()
	ops, sched, ch := setup(t)

	results, err := ops.Run(ctx, "c1", "hostname", RunOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "n1", results[0].NodeID)
	assert.Equal(t, "n2", results[1].NodeID)
	assert.NoError(t, results.Err())

	require.Len(t, ch.calls, 2)
	username := ch.calls[0].username
	assert.NotEmpty(t, username)
	for _, c := range ch.calls {
		assert.Equal(t, username, c.username)
		assert.True(t, c.userSeen, "user should exist while the command runs")
		assert.Equal(t, "hostname", c.command)
	}

	// Removed afterwards
	for _, id := range []string{"n1", "n2"} {
		_, err := sched.GetNodeUser(ctx, "c1", id, username)
		assert.Equal(t, scheduler.CodeNodeUserNotFound, scheduler.CodeOf(err))
	}
}

func TestRunSubsetWithUnknownNode(t *testing.T) {
	ops, _, ch := setup(t)

	results, err := ops.Run(context.Background(), "c1", "true", RunOptions{NodeIDs: []string{"n9", "n2"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "n2", results[0].NodeID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "n9", results[1].NodeID)
	assert.True(t, errdefs.IsNotFound(results[1].Err))
	assert.Len(t, ch.calls, 1)
}

func TestRunUnknownCluster(t *testing.T) {
	ops, _, _ := setup(t)
	_, err := ops.Run(context.Background(), "missing", "true", RunOptions{})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestNodeRun(t *testing.T) {
	ops, _, ch := setup(t)

	out, err := ops.NodeRun(context.Background(), "c1", "n2", "uptime", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "n2", out.NodeID)
	assert.Equal(t, "ok", out.Output)
	require.Len(t, ch.calls, 1)
	assert.Equal(t, remote.Target{NodeID: "n2", Address: "52.1.1.1", Port: 50001}, ch.calls[0].target)

	_, err = ops.NodeRun(context.Background(), "c1", "n9", "uptime", RunOptions{})
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCopy(t *testing.T) {
	ops, _, ch := setup(t)
	source := filepath.Join(t.TempDir(), "job.py")
	require.NoError(t, os.WriteFile(source, []byte("print('hi')\n"), 0600))

	results, err := ops.Copy(context.Background(), "c1", source, "/tmp/jobs/job.py", RunOptions{Internal: true})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NoError(t, results.Err())

	require.Len(t, ch.calls, 2)
	for _, c := range ch.calls {
		assert.Equal(t, "print('hi')\n", c.stdin)
		assert.Equal(t, "mkdir -p '/tmp/jobs' && cat > '/tmp/jobs/job.py'", c.command)
		assert.Equal(t, 22, c.target.Port)
	}

	_, err = ops.Copy(context.Background(), "c1", filepath.Join(t.TempDir(), "missing"), "/tmp/x", RunOptions{})
	assert.True(t, errdefs.IsValidation(err))
}

func TestSSHIntoNode(t *testing.T) {
	ctx := context.Background()
	ops, sched, _ := setup(t)
	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)

	spec, err := ops.SSHIntoNode(ctx, "c1", "n1", "alice", kp.PublicKey, "", false, remotelogin.DefaultForwards)
	require.NoError(t, err)
	assert.Equal(t, "52.1.1.1", spec.Host)
	assert.Equal(t, 50000, spec.Port)
	assert.Len(t, spec.Forwards, 3)
	assert.Contains(t, spec.Command("alice"), "alice@52.1.1.1")

	_, err = sched.GetNodeUser(ctx, "c1", "n1", "alice")
	assert.NoError(t, err)

	_, err = ops.SSHIntoNode(ctx, "c1", "n1", "bob", "", "", false, nil)
	assert.True(t, errdefs.IsValidation(err))
}

func TestGetConfigWithoutDataStore(t *testing.T) {
	ops, _, _ := setup(t)
	_, err := ops.GetConfig(context.Background(), "c1")
	assert.True(t, errdefs.IsNotFound(err))
}

func withData(t *testing.T, ops *Operations) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ops.Data = clusterdata.NewData(store, "correct horse")
}

func TestClusterConfigLifecycle(t *testing.T) {
	ctx := context.Background()
	ops, _, _ := setup(t)
	withData(t, ops)

	cfg := &clusterdata.ClusterConfiguration{
		ClusterID:      "c1",
		Toolkit:        &clusterdata.Toolkit{Software: "spark", Version: "2.3.0"},
		VMSize:         "standard_d2_v2",
		DedicatedNodes: 2,
	}
	require.NoError(t, ops.SetConfig(ctx, cfg))

	got, err := ops.GetConfig(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	unknown := *cfg
	unknown.ClusterID = "missing"
	assert.True(t, errdefs.IsNotFound(ops.SetConfig(ctx, &unknown)))

	invalid := *cfg
	invalid.VMSize = ""
	assert.True(t, errdefs.IsValidation(ops.SetConfig(ctx, &invalid)))

	require.NoError(t, ops.DeleteConfig(ctx, "c1"))
	_, err = ops.GetConfig(ctx, "c1")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestSSHIntoNodeWithClusterKey(t *testing.T) {
	ctx := context.Background()
	ops, sched, _ := setup(t)
	withData(t, ops)

	_, err := ops.SSHIntoNode(ctx, "c1", "n1", "alice", "", "", false, nil)
	require.NoError(t, err)

	kp, err := ops.ClusterKey(ctx, "c1")
	require.NoError(t, err)
	user, err := sched.GetNodeUser(ctx, "c1", "n1", "alice")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, user.PublicKey)

	again, err := ops.ClusterKey(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKeyPEM, again.PrivateKeyPEM)

	_, err = ops.ClusterKey(ctx, "missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCheckHealth(t *testing.T) {
	ops, sched, _ := setup(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	sched.SetRemoteLogin("c1", "n1", types.RemoteLogin{IPAddress: "127.0.0.1", Port: port})

	results, err := ops.CheckHealth(context.Background(), "c1", HealthOptions{NodeIDs: []string{"n1"}, Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].NodeID)
	assert.True(t, results[0].Healthy, results[0].Message)
	assert.Equal(t, health.CheckTypeTCP, results[0].Type)
}
