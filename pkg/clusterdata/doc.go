/*
Package clusterdata keeps per-cluster data in blob storage: the
configuration a cluster was created with and its SSH key pair.

	clusters/<id>/config.yaml       ClusterConfiguration as YAML
	clusters/<id>/ssh-keys.sealed   key pair, AES-256-GCM sealed

The key pair is sealed with a key derived from the configured passphrase and
the cluster id, so a blob copied to another cluster id does not open.
*/
package clusterdata
