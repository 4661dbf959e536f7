/*
Package credentials creates and removes OS users on cluster nodes.

Single-node calls return an error. Cluster calls run on every targeted node
concurrently and return a Report mapping each node id to its outcome; one
node failing does not stop or roll back the others.

Creating a user that already exists succeeds when the existing user has the
same public key or password, and fails with a Conflict otherwise.

GenerateUserOnCluster is split in two for callers that need to retry:
NewCredential generates a username and key pair, Apply creates that user on
a set of nodes and can be called again for the nodes that failed.
*/
package credentials
