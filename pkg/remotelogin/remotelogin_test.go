package remotelogin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/types"
)

func newScheduler() *scheduler.Memory {
	m := scheduler.NewMemory()
	m.AddPool(&scheduler.Pool{ID: "c1"},
		&types.Node{ID: "n1", InternalIP: "10.0.0.4"},
		&types.Node{ID: "n2", InternalIP: "10.0.0.5"})
	m.SetRemoteLogin("c1", "n1", types.RemoteLogin{IPAddress: "52.1.1.1", Port: 50000})
	return m
}

func TestGetRemoteLoginExternal(t *testing.T) {
	m := newScheduler()
	r := NewResolver(m, 0)

	login, err := r.GetRemoteLogin(context.Background(), "c1", "n1", false)
	require.NoError(t, err)
	assert.Equal(t, types.RemoteLogin{IPAddress: "52.1.1.1", Port: 50000}, login)
	assert.Equal(t, 1, m.Calls("GetRemoteLoginSettings"))
}

func TestGetRemoteLoginInternalSkipsLoginEndpoint(t *testing.T) {
	m := newScheduler()
	r := NewResolver(m, 2222)

	login, err := r.GetRemoteLogin(context.Background(), "c1", "n2", true)
	require.NoError(t, err)
	assert.Equal(t, types.RemoteLogin{IPAddress: "10.0.0.5", Port: 2222}, login)
	assert.Zero(t, m.Calls("GetRemoteLoginSettings"))
}

func TestResolveInternalMakesNoSchedulerCall(t *testing.T) {
	m := newScheduler()
	cluster, err := scheduler.LoadCluster(context.Background(), m, "c1")
	require.NoError(t, err)
	before := m.Calls("GetNode") + m.Calls("ListNodes") + m.Calls("GetPool")

	r := NewResolver(m, 0)
	for _, id := range cluster.NodeIDs() {
		_, err := r.Resolve(context.Background(), cluster, id, true)
		require.NoError(t, err)
	}

	assert.Zero(t, m.Calls("GetRemoteLoginSettings"))
	assert.Equal(t, before, m.Calls("GetNode")+m.Calls("ListNodes")+m.Calls("GetPool"))

	_, err = r.Resolve(context.Background(), cluster, "n9", true)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestGetRemoteLoginErrors(t *testing.T) {
	m := newScheduler()
	r := NewResolver(m, 0)

	_, err := r.GetRemoteLogin(context.Background(), "c1", "n2", false)
	assert.True(t, errdefs.IsNotFound(err))

	m.Fail("GetRemoteLoginSettings", scheduler.NewError("ServerBusy", "try later"))
	_, err = r.GetRemoteLogin(context.Background(), "c1", "n1", false)
	assert.True(t, errdefs.IsScheduler(err))
}

func TestBuildTunnelSpec(t *testing.T) {
	login := types.RemoteLogin{IPAddress: "52.1.1.1", Port: 50000}
	spec := BuildTunnelSpec(login, DefaultForwards)

	assert.Equal(t,
		"ssh -L 8080:localhost:8080 -L 4040:localhost:4040 -L 8888:localhost:8888 spark@52.1.1.1 -p 50000",
		spec.Command("spark"))
}

func TestBuildTunnelSpecDuplicateLocalPort(t *testing.T) {
	spec := BuildTunnelSpec(types.RemoteLogin{IPAddress: "h", Port: 22}, []types.PortForwardingSpecification{
		{LocalPort: 9000, RemotePort: 8080},
		{LocalPort: 9000, RemotePort: 4040},
	})

	assert.Equal(t, []string{"-L", "9000:localhost:8080", "u@h", "-p", "22"}, spec.Args("u"))
}

func TestBuildTunnelSpecNoForwards(t *testing.T) {
	spec := BuildTunnelSpec(types.RemoteLogin{IPAddress: "h", Port: 22}, nil)
	assert.Equal(t, "ssh u@h -p 22", spec.Command("u"))
}
