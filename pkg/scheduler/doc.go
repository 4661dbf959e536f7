/*
Package scheduler is burrow's view of the batch scheduler that owns clusters,
nodes, jobs and tasks.

Everything burrow knows about a cluster comes through the Client interface.
A cluster is a pool, its nodes are the pool's compute nodes, and the tasks of
a cluster live in a job named after it. Node users are OS accounts the
scheduler creates on a node on burrow's behalf.

# Clients

Memory keeps pools, nodes, users, jobs and tasks in maps behind a mutex. It
serves tests and backs the inventory. Fail makes every later call of a
method return an error until cleared, and Calls counts invocations:

	m := scheduler.NewMemory()
	m.AddPool(&scheduler.Pool{ID: "c1"}, &types.Node{ID: "n1"})
	m.Fail("ListTasks", scheduler.NewError("ServerBusy", "throttled"))

InventoryClient serves a static inventory file for deployments without a
batch service. Pools, nodes and tasks come from YAML; node users are managed
for real, by running useradd, userdel and getent on the node over SSH as the
inventory's admin account:

	admin:
	  username: burrow
	  private_key_file: ~/.ssh/burrow_admin
	clusters:
	  - id: c1
	    vm_size: standard_d2_v2
	    nodes:
	      - id: n1
	        internal_ip: 10.0.0.4
	        external_ip: 52.1.1.1
	        ssh_port: 50000

A node's password cannot be read back from the node. InventoryClient also
implements PasswordVerifier, which checks a candidate against the node's
shadow entry instead.

# Errors

Clients fail with *Error values carrying a service code such as
PoolNotFound or UserExists. Classify maps a code onto the
errdefs kinds the rest of burrow branches on:

	NotFound   PoolNotFound, NodeNotFound, JobNotFound, TaskNotFound,
	           JobScheduleNotFound, NodeUserNotFound
	Conflict   UserExists
	Scheduler  anything else, with the code preserved

Errors that already carry an errdefs kind, like a connection failure from
the inventory's SSH channel, keep it. A deadline becomes a Timeout.

# Tasks

Task is the scheduler's native record. Project converts it to a types.Task,
mapping Active to preparing and a completed task with a non-zero exit code
to failed.
*/
package scheduler
