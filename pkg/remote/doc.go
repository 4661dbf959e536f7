/*
Package remote executes shell commands on cluster nodes.

Channel is the seam between burrow and the network. SSHChannel implements it
with golang.org/x/crypto/ssh, opening one connection per call:

	ch, err := remote.NewSSHChannel(remote.SSHConfig{KnownHostsFile: "/etc/burrow/known_hosts"})
	out := ch.Execute(ctx, remote.Target{NodeID: "n1", Address: "10.0.0.4", Port: 22},
		"uname -a", remote.Credentials{Username: "alice", PrivateKeyPEM: pem}, remote.ExecOptions{})

Execute never returns an error of its own. A command that ran reports its
exit status in NodeOutput.ExitStatus, with standard output and standard
error captured separately. A command that could not run sets NodeOutput.Err
to a Connection or Timeout error.

With ExecOptions.Container set the command is wrapped in
"docker exec <container> sh -c ..." so it runs inside a container on the
node. Quote single-quotes arguments for the remote shell.
*/
package remote
