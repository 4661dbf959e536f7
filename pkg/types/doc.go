/*
Package types defines the data model shared by every burrow package.

A Cluster is a scheduler pool: a set of Nodes plus the metadata burrow
derives from the pool (master node, toolkit, GPU support). A NodeOutput is
the result of one remote operation on one node; fan-out operations return
exactly one per targeted node, and a node's failure is recorded in its Err
field rather than returned.

A Task is the tracked record of an application run. Its state moves
Preparing → Running → Completed or Failed, and the ApplicationState shown to
users mirrors it. ApplicationLog carries a slice of an application's output
together with the offset to resume from.
*/
package types
