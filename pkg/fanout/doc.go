/*
Package fanout runs a command on many nodes of a cluster at once.

An Executor resolves each targeted node's address, opens a remote execution
per node and collects one NodeOutput per node:

	results := executor.RunOnNodes(ctx, cluster, "nproc", fanout.Options{
		Timeout: 30 * time.Second,
	})
	for _, out := range results.Errors() {
		fmt.Printf("%s: %v\n", out.NodeID, out.Err)
	}

# Concurrency

At most MaxConcurrency node operations are in flight; the rest queue. The
bound comes from errgroup's SetLimit. Every node gets its own timeout, so a
slow node delays only itself.

# Failure Isolation

A node that cannot be resolved, reached or authenticated against reports the
failure in its NodeOutput. Other nodes are unaffected and nothing is retried.
A command that runs and exits non-zero is not a failure of the operation:
its ExitStatus is set and Err stays nil.

# Ordering

Results are sorted by node id. Targeting a subset that names an unknown node
yields a NotFound result for that node.
*/
package fanout
