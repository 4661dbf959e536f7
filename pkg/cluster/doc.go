/*
Package cluster is the facade the burrow CLI drives. Operations ties the
scheduler, the fan-out executor, credentials, tracking, the reconciler, the
log service and stored cluster data together.

Run, NodeRun and Copy never use a standing account. Each call generates a
user with a fresh key pair on the targeted nodes, runs as that user and
deletes it afterwards:

	results, err := ops.Run(ctx, "c1", "df -h", cluster.RunOptions{})
	for _, out := range results {
		fmt.Println(out.NodeID, out.ExitStatus)
	}

Nodes where the user could not be created appear in the results with that
error. Removal is best effort; leftover users expire on their own.

SSHIntoNode creates a named user for interactive use. Without a public key
or password the user gets the cluster's key pair, which is generated on first
use and kept sealed in the cluster data store.
*/
package cluster
