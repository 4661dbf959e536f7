package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/types"
)

// Exit statuses of useradd/userdel used to recognise scheduler conditions
const (
	exitUserExists   = 9
	exitUserNotFound = 6
)

var validUsername = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// Inventory is a static description of clusters, loaded from YAML, for
// deployments where no batch service is available
type Inventory struct {
	Admin     InventoryAdmin      `yaml:"admin"`
	Clusters  []InventoryCluster  `yaml:"clusters"`
	Jobs      []InventoryJob      `yaml:"jobs"`
	Schedules []InventorySchedule `yaml:"schedules"`
}

// InventoryAdmin is the account used to manage node users over SSH
type InventoryAdmin struct {
	Username       string `yaml:"username"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Password       string `yaml:"password"`
}

// InventoryCluster describes one pool
type InventoryCluster struct {
	ID       string            `yaml:"id"`
	VMSize   string            `yaml:"vm_size"`
	Metadata map[string]string `yaml:"metadata"`
	Nodes    []InventoryNode   `yaml:"nodes"`
	Tasks    []InventoryTask   `yaml:"tasks"`
}

// InventoryNode describes one node and how to reach it from outside
type InventoryNode struct {
	ID         string          `yaml:"id"`
	InternalIP string          `yaml:"internal_ip"`
	State      types.NodeState `yaml:"state"`
	ExternalIP string          `yaml:"external_ip"`
	SSHPort    int             `yaml:"ssh_port"`
}

// InventoryTask seeds a task in the cluster's job
type InventoryTask struct {
	ID          string    `yaml:"id"`
	State       TaskState `yaml:"state"`
	NodeID      string    `yaml:"node_id"`
	CommandLine string    `yaml:"command_line"`
	ExitCode    *int      `yaml:"exit_code"`
}

// InventoryJob seeds a job produced by a schedule
type InventoryJob struct {
	ID         string         `yaml:"id"`
	ScheduleID string         `yaml:"schedule_id"`
	PoolID     string         `yaml:"pool_id"`
	State      types.JobState `yaml:"state"`
}

// InventorySchedule seeds a job schedule
type InventorySchedule struct {
	ID        string `yaml:"id"`
	RecentJob string `yaml:"recent_job"`
}

// LoadInventory reads an inventory file
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, errdefs.Validation("load inventory", "failed to parse %s: %v", path, err)
	}
	for _, c := range inv.Clusters {
		if c.ID == "" {
			return nil, errdefs.Validation("load inventory", "cluster without id in %s", path)
		}
		for _, n := range c.Nodes {
			if n.ID == "" || n.InternalIP == "" {
				return nil, errdefs.Validation("load inventory", "cluster %s: node needs id and internal_ip", c.ID)
			}
		}
	}
	return &inv, nil
}

// Memory builds an in-memory scheduler seeded with the inventory
func (inv *Inventory) Memory() *Memory {
	m := NewMemory()
	now := time.Now().UTC()

	for _, c := range inv.Clusters {
		nodes := make([]*types.Node, 0, len(c.Nodes))
		for _, n := range c.Nodes {
			state := n.State
			if state == "" {
				state = types.NodeStateIdle
			}
			nodes = append(nodes, &types.Node{ID: n.ID, InternalIP: n.InternalIP, State: state})
			if n.ExternalIP != "" {
				port := n.SSHPort
				if port == 0 {
					port = 22
				}
				m.SetRemoteLogin(c.ID, n.ID, types.RemoteLogin{IPAddress: n.ExternalIP, Port: port})
			}
		}
		m.AddPool(&Pool{ID: c.ID, VMSize: c.VMSize, Metadata: c.Metadata}, nodes...)
		m.PutJob(&types.Job{ID: c.ID, PoolID: c.ID, State: types.JobStateActive, CreationTime: now})

		for _, t := range c.Tasks {
			m.PutTask(c.ID, &Task{
				ID:                  t.ID,
				State:               t.State,
				NodeID:              t.NodeID,
				CommandLine:         t.CommandLine,
				ExitCode:            t.ExitCode,
				CreationTime:        now,
				StateTransitionTime: now,
			})
		}
	}

	for _, j := range inv.Jobs {
		id := j.ID
		if id == "" {
			id = uuid.New().String()
		}
		m.PutJob(&types.Job{ID: id, ScheduleID: j.ScheduleID, PoolID: j.PoolID, State: j.State, CreationTime: now})
	}
	for _, s := range inv.Schedules {
		m.PutJobSchedule(&JobSchedule{ID: s.ID, RecentJobID: s.RecentJob})
	}
	return m
}

// InventoryClient serves pool, job and task reads from the inventory and
// manages node users by running useradd/userdel over SSH as the admin user
type InventoryClient struct {
	*Memory
	channel remote.Channel
	admin   remote.Credentials
	timeout time.Duration
	logger  zerolog.Logger
}

// NewInventoryClient creates a client over inv that reaches nodes through ch
func NewInventoryClient(inv *Inventory, ch remote.Channel, timeout time.Duration) (*InventoryClient, error) {
	admin := remote.Credentials{Username: inv.Admin.Username, Password: inv.Admin.Password}
	if inv.Admin.PrivateKeyFile != "" {
		key, err := os.ReadFile(inv.Admin.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read admin key: %w", err)
		}
		admin.PrivateKeyPEM = key
	}

	return &InventoryClient{
		Memory:  inv.Memory(),
		channel: ch,
		admin:   admin,
		timeout: timeout,
		logger:  log.WithComponent("scheduler"),
	}, nil
}

// AdminCredentials returns the account the client manages nodes with
func (c *InventoryClient) AdminCredentials() remote.Credentials {
	return c.admin
}

// AddNodeUser creates an OS user with the given key or password
func (c *InventoryClient) AddNodeUser(ctx context.Context, poolID, nodeID string, user NodeUser) error {
	if !validUsername.MatchString(user.Name) {
		return errdefs.Validation("add node user", "invalid username %q", user.Name)
	}

	var script strings.Builder
	fmt.Fprintf(&script, "set -e; useradd -m -s /bin/bash %s", user.Name)
	if !user.ExpiryTime.IsZero() {
		fmt.Fprintf(&script, " -e %s", user.ExpiryTime.UTC().Format("2006-01-02"))
	}
	if user.IsAdmin {
		fmt.Fprintf(&script, "; usermod -aG sudo %s", user.Name)
	}
	if user.PublicKey != "" {
		home := "/home/" + user.Name
		fmt.Fprintf(&script, "; install -d -m 700 -o %[1]s -g %[1]s %[2]s/.ssh", user.Name, home)
		fmt.Fprintf(&script, "; printf '%%s\\n' %s > %s/.ssh/authorized_keys", remote.Quote(user.PublicKey), home)
		fmt.Fprintf(&script, "; chown %[1]s:%[1]s %[2]s/.ssh/authorized_keys; chmod 600 %[2]s/.ssh/authorized_keys", user.Name, home)
	}
	if user.Password != "" {
		fmt.Fprintf(&script, "; echo %s | chpasswd", remote.Quote(user.Name+":"+user.Password))
	}

	out, err := c.run(ctx, poolID, nodeID, script.String(), nil)
	if err != nil {
		return err
	}
	switch out.ExitStatus {
	case 0:
		return nil
	case exitUserExists:
		return NewError(CodeUserExists, "the specified node user %s already exists", user.Name)
	default:
		return NewError(CodeCommandFailed, "useradd exited %d: %s", out.ExitStatus, out.Diagnostic())
	}
}

// DeleteNodeUser removes an OS user and its home directory
func (c *InventoryClient) DeleteNodeUser(ctx context.Context, poolID, nodeID, username string) error {
	if !validUsername.MatchString(username) {
		return errdefs.Validation("delete node user", "invalid username %q", username)
	}
	out, err := c.run(ctx, poolID, nodeID, "userdel -r "+username, nil)
	if err != nil {
		return err
	}
	switch out.ExitStatus {
	case 0:
		return nil
	case exitUserNotFound:
		return NewError(CodeNodeUserNotFound, "node user %s not found on %s", username, nodeID)
	default:
		return NewError(CodeCommandFailed, "userdel exited %d: %s", out.ExitStatus, out.Diagnostic())
	}
}

// GetNodeUser reads back an OS user's authorized key. The password cannot be
// read back; see VerifyNodeUserPassword.
func (c *InventoryClient) GetNodeUser(ctx context.Context, poolID, nodeID, username string) (*NodeUser, error) {
	if !validUsername.MatchString(username) {
		return nil, errdefs.Validation("get node user", "invalid username %q", username)
	}
	script := fmt.Sprintf("id -u %[1]s >/dev/null 2>&1 || exit %[2]d; cat /home/%[1]s/.ssh/authorized_keys 2>/dev/null || true",
		username, exitUserNotFound)
	out, err := c.run(ctx, poolID, nodeID, script, nil)
	if err != nil {
		return nil, err
	}
	switch out.ExitStatus {
	case 0:
		return &NodeUser{Name: username, PublicKey: strings.TrimSpace(out.Output)}, nil
	case exitUserNotFound:
		return nil, NewError(CodeNodeUserNotFound, "node user %s not found on %s", username, nodeID)
	default:
		return nil, NewError(CodeCommandFailed, "user lookup exited %d: %s", out.ExitStatus, out.Diagnostic())
	}
}

// VerifyNodeUserPassword hashes password with the salt and scheme of the
// user's shadow entry and compares the result. Schemes openssl cannot produce,
// such as yescrypt, never match. The password travels on stdin.
func (c *InventoryClient) VerifyNodeUserPassword(ctx context.Context, poolID, nodeID, username, password string) (bool, error) {
	if !validUsername.MatchString(username) {
		return false, errdefs.Validation("verify node user password", "invalid username %q", username)
	}
	script := fmt.Sprintf(`h=$(getent shadow %[1]s | cut -d: -f2); [ -n "$h" ] || exit %[2]d; `+
		`id=$(printf '%%s' "$h" | cut -d'$' -f2); salt=$(printf '%%s' "$h" | cut -d'$' -f3); `+
		`p=$(openssl passwd -"$id" -salt "$salt" -stdin 2>/dev/null) || { echo mismatch; exit 0; }; `+
		`if [ "$p" = "$h" ]; then echo match; else echo mismatch; fi`,
		username, exitUserNotFound)
	out, err := c.run(ctx, poolID, nodeID, script, strings.NewReader(password+"\n"))
	if err != nil {
		return false, err
	}
	switch out.ExitStatus {
	case 0:
		return strings.TrimSpace(out.Output) == "match", nil
	case exitUserNotFound:
		return false, NewError(CodeNodeUserNotFound, "node user %s not found on %s", username, nodeID)
	default:
		return false, NewError(CodeCommandFailed, "password check exited %d: %s", out.ExitStatus, out.Diagnostic())
	}
}

func (c *InventoryClient) run(ctx context.Context, poolID, nodeID, script string, stdin io.Reader) (types.NodeOutput, error) {
	target, err := c.target(ctx, poolID, nodeID)
	if err != nil {
		return types.NodeOutput{}, err
	}
	logger := log.WithNodeID(c.logger, poolID, nodeID)
	logger.Debug().Msg("Running user management command")

	out := c.channel.Execute(ctx, target, "sudo sh -c "+remote.Quote(script), c.admin, remote.ExecOptions{Timeout: c.timeout, Stdin: stdin})
	if out.Err != nil {
		return out, out.Err
	}
	return out, nil
}

func (c *InventoryClient) target(ctx context.Context, poolID, nodeID string) (remote.Target, error) {
	if login, err := c.Memory.GetRemoteLoginSettings(ctx, poolID, nodeID); err == nil {
		return remote.Target{NodeID: nodeID, Address: login.IPAddress, Port: login.Port}, nil
	}
	node, err := c.Memory.GetNode(ctx, poolID, nodeID)
	if err != nil {
		return remote.Target{}, err
	}
	return remote.Target{NodeID: nodeID, Address: node.InternalIP, Port: 22}, nil
}
