package remotelogin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultSSHPort is the port nodes listen on for SSH on their internal address
const DefaultSSHPort = 22

// DefaultForwards are the Spark web UI, the master UI and Jupyter
var DefaultForwards = []types.PortForwardingSpecification{
	{LocalPort: 8080, RemotePort: 8080},
	{LocalPort: 4040, RemotePort: 4040},
	{LocalPort: 8888, RemotePort: 8888},
}

// Resolver determines the address a node can be reached on
type Resolver struct {
	scheduler scheduler.Client
	sshPort   int
	logger    zerolog.Logger
}

// NewResolver creates a resolver. sshPort is used for internal addresses.
func NewResolver(client scheduler.Client, sshPort int) *Resolver {
	if sshPort == 0 {
		sshPort = DefaultSSHPort
	}
	return &Resolver{
		scheduler: client,
		sshPort:   sshPort,
		logger:    log.WithComponent("remotelogin"),
	}
}

// GetRemoteLogin resolves a node by id. Internal resolution reads the node
// record and never calls the scheduler's remote login endpoint.
func (r *Resolver) GetRemoteLogin(ctx context.Context, clusterID, nodeID string, internal bool) (types.RemoteLogin, error) {
	if internal {
		node, err := r.scheduler.GetNode(ctx, clusterID, nodeID)
		if err != nil {
			return types.RemoteLogin{}, scheduler.Classify("get remote login", err)
		}
		return r.internalLogin(node)
	}
	return r.externalLogin(ctx, clusterID, nodeID)
}

// Resolve resolves a node of an already loaded cluster. Internal resolution
// makes no scheduler call at all.
func (r *Resolver) Resolve(ctx context.Context, cluster *types.Cluster, nodeID string, internal bool) (types.RemoteLogin, error) {
	if !internal {
		return r.externalLogin(ctx, cluster.ID, nodeID)
	}
	node := cluster.Node(nodeID)
	if node == nil {
		return types.RemoteLogin{}, errdefs.NotFound("get remote login", "node %s not found in cluster %s", nodeID, cluster.ID)
	}
	return r.internalLogin(node)
}

func (r *Resolver) internalLogin(node *types.Node) (types.RemoteLogin, error) {
	if node.InternalIP == "" {
		return types.RemoteLogin{}, errdefs.NotFound("get remote login", "node %s has no internal address", node.ID)
	}
	return types.RemoteLogin{IPAddress: node.InternalIP, Port: r.sshPort}, nil
}

func (r *Resolver) externalLogin(ctx context.Context, clusterID, nodeID string) (types.RemoteLogin, error) {
	login, err := r.scheduler.GetRemoteLoginSettings(ctx, clusterID, nodeID)
	if err != nil {
		logger := log.WithNodeID(r.logger, clusterID, nodeID)
		logger.Debug().Err(err).Msg("Remote login lookup failed")
		return types.RemoteLogin{}, scheduler.Classify("get remote login", err)
	}
	return *login, nil
}

// TunnelSpec is a connection target plus local-to-remote port forwards
type TunnelSpec struct {
	Host     string
	Port     int
	Forwards []types.PortForwardingSpecification
}

// BuildTunnelSpec combines a login and port forwards. Forwards are kept in
// order; a repeated local port keeps its first mapping.
func BuildTunnelSpec(login types.RemoteLogin, forwards []types.PortForwardingSpecification) TunnelSpec {
	spec := TunnelSpec{Host: login.IPAddress, Port: login.Port}
	seen := make(map[int]bool, len(forwards))
	for _, f := range forwards {
		if seen[f.LocalPort] {
			continue
		}
		seen[f.LocalPort] = true
		spec.Forwards = append(spec.Forwards, f)
	}
	return spec
}

// Args returns the ssh arguments that open the tunnel as username
func (s TunnelSpec) Args(username string) []string {
	args := make([]string, 0, 2*len(s.Forwards)+3)
	for _, f := range s.Forwards {
		args = append(args, "-L", fmt.Sprintf("%d:localhost:%d", f.LocalPort, f.RemotePort))
	}
	return append(args, username+"@"+s.Host, "-p", strconv.Itoa(s.Port))
}

// Command returns the full ssh command line
func (s TunnelSpec) Command(username string) string {
	return "ssh " + strings.Join(s.Args(username), " ")
}
