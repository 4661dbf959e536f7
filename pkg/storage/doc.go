/*
Package storage provides the table and blob stores burrow persists state in.

Two backends implement Store:

  - BoltStore keeps everything in a single bbolt file (burrow.db) under the
    data directory. Each table is a nested bucket under "tables"; blobs live
    in the "blobs" bucket. Suited to a single operator machine.
  - EtcdStore keeps tables and blobs under a key prefix in etcd, so several
    operators share tracking state. Inserts are a transaction comparing the
    key's CreateRevision with zero; updates compare ModRevision and retry.

Open selects a backend by name ("bolt" or "etcd").

# Key Layout (etcd)

	<prefix>/tables/<table>              table marker
	<prefix>/tables/<table>/rows/<key>   row value
	<prefix>/blobs/<key>                 blob value

# Errors

Missing tables, rows and blobs are errdefs NotFound errors. Inserting a key
that exists is a Conflict. Backend failures are Connection errors.
*/
package storage
