package types

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Pool metadata keys written by cluster provisioning and read back here.
const (
	MasterNodeMetadataKey = "_burrow_master_node"
	SoftwareMetadataKey   = "_burrow_software"
)

var gpuVMSize = regexp.MustCompile(`(?i)^standard_n[cdv]`)

// Cluster represents a named group of compute nodes managed as one unit by
// the scheduler. The core only reads it.
type Cluster struct {
	ID           string
	Nodes        []*Node
	MasterNodeID string
	Toolkit      string
	VMSize       string
	GPUEnabled   bool
}

// NewCluster builds a Cluster from the scheduler's pool metadata and nodes
func NewCluster(id, vmSize string, metadata map[string]string, nodes []*Node) *Cluster {
	return &Cluster{
		ID:           id,
		Nodes:        nodes,
		MasterNodeID: metadata[MasterNodeMetadataKey],
		Toolkit:      metadata[SoftwareMetadataKey],
		VMSize:       vmSize,
		GPUEnabled:   IsGPUEnabled(vmSize),
	}
}

// IsGPUEnabled reports whether a VM size carries a GPU
func IsGPUEnabled(vmSize string) bool {
	return gpuVMSize.MatchString(vmSize)
}

// Node returns the node with the given id, or nil
func (c *Cluster) Node(id string) *Node {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeIDs returns the ids of every node in the cluster, sorted
func (c *Cluster) NodeIDs() []string {
	ids := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return ids
}

// Node is one compute instance within a cluster
type Node struct {
	ID         string
	InternalIP string
	State      NodeState
}

// NodeState is the allocation state of a node, owned by the scheduler
type NodeState string

const (
	NodeStateIdle        NodeState = "idle"
	NodeStateRunning     NodeState = "running"
	NodeStateStarting    NodeState = "starting"
	NodeStateStartTask   NodeState = "waitingforstarttask"
	NodeStateRebooting   NodeState = "rebooting"
	NodeStateUnusable    NodeState = "unusable"
	NodeStateOffline     NodeState = "offline"
	NodeStateLeaving     NodeState = "leavingpool"
	NodeStateUnknown     NodeState = "unknown"
	NodeStatePreempted   NodeState = "preempted"
	NodeStateStartFailed NodeState = "starttaskfailed"
)

// Reachable reports whether the node can be expected to accept connections
func (s NodeState) Reachable() bool {
	switch s {
	case NodeStateUnusable, NodeStateOffline, NodeStateLeaving, NodeStatePreempted, NodeStateUnknown:
		return false
	}
	return true
}

// RemoteLogin is the address a node can be reached on
type RemoteLogin struct {
	IPAddress string
	Port      int
}

// PortForwardingSpecification forwards a local port to a port on the node
type PortForwardingSpecification struct {
	LocalPort  int `yaml:"local_port"`
	RemotePort int `yaml:"remote_port"`
}

// NodeOutput is the result of one remote execution. Err is set when the
// command could not be run at all; a command that ran and exited non-zero
// has a nil Err and a non-zero ExitStatus. Output holds standard output
// only; standard error is kept apart in Stderr.
type NodeOutput struct {
	NodeID     string
	Output     string
	Stderr     string
	Err        error
	ExitStatus int
}

// Diagnostic returns what the command printed about a failure: its standard
// error, or its output when standard error is empty
func (o NodeOutput) Diagnostic() string {
	if s := strings.TrimSpace(o.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(o.Output)
}

// Succeeded reports whether the command ran and exited zero
func (o NodeOutput) Succeeded() bool {
	return o.Err == nil && o.ExitStatus == 0
}

// TaskState represents the state of a task
type TaskState string

const (
	TaskStatePreparing TaskState = "preparing"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// Terminal reports whether no further transition is expected
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// FailureInfo describes why a task failed
type FailureInfo struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Task is a tracking-store record for one submitted task (application)
type Task struct {
	ClusterID           string       `json:"cluster_id"`
	ID                  string       `json:"id"`
	State               TaskState    `json:"state"`
	NodeID              string       `json:"node_id,omitempty"`
	CommandLine         string       `json:"command_line,omitempty"`
	StartTime           time.Time    `json:"start_time,omitempty"`
	EndTime             time.Time    `json:"end_time,omitempty"`
	ExitCode            *int         `json:"exit_code,omitempty"`
	StateTransitionTime time.Time    `json:"state_transition_time"`
	FailureInfo         *FailureInfo `json:"failure_info,omitempty"`
}

// ApplicationState is the state of an application as shown to users
type ApplicationState string

const (
	ApplicationStatePreparing ApplicationState = "preparing"
	ApplicationStateRunning   ApplicationState = "running"
	ApplicationStateCompleted ApplicationState = "completed"
	ApplicationStateFailed    ApplicationState = "failed"
)

// ApplicationStateOf maps a task state onto an application state
func ApplicationStateOf(s TaskState) ApplicationState {
	switch s {
	case TaskStateRunning:
		return ApplicationStateRunning
	case TaskStateCompleted:
		return ApplicationStateCompleted
	case TaskStateFailed:
		return ApplicationStateFailed
	default:
		return ApplicationStatePreparing
	}
}

// ApplicationLog is a (possibly partial) application output. TotalBytes is
// the size of the log on the node at read time; callers pass it back as the
// next offset when tailing.
type ApplicationLog struct {
	Name             string
	ClusterID        string
	Log              []byte
	TotalBytes       int64
	ApplicationState ApplicationState
	ExitCode         *int
}

// Credential is a generated user and its key material. It is never
// persisted by the core.
type Credential struct {
	Username      string
	PublicKey     string // OpenSSH authorized_keys format
	PrivateKeyPEM []byte
	Password      string
}

// JobState represents the state of a scheduler job
type JobState string

const (
	JobStateActive      JobState = "active"
	JobStateCompleted   JobState = "completed"
	JobStateDisabled    JobState = "disabled"
	JobStateTerminating JobState = "terminating"
	JobStateDeleting    JobState = "deleting"
)

// Job is a scheduler job, as produced by a recurring job schedule
type Job struct {
	ID                  string
	ScheduleID          string
	PoolID              string
	State               JobState
	CreationTime        time.Time
	StateTransitionTime time.Time
}
