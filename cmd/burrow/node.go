package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/remotelogin"
	"github.com/cuemby/burrow/pkg/types"
)

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Operate on a single node",
}

var nodeRunCmd = &cobra.Command{
	Use:   "run CLUSTER NODE COMMAND...",
	Short: "Run a command on one node",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			out, err := a.ops.NodeRun(cmd.Context(), args[0], args[1], strings.Join(args[2:], " "), opts)
			if err != nil {
				return err
			}
			printNodeOutput(cmd.OutOrStdout(), out)
			if out.Err != nil {
				return out.Err
			}
			if out.ExitStatus != 0 {
				return fmt.Errorf("command exited %d on %s", out.ExitStatus, out.NodeID)
			}
			return nil
		})
	},
}

var nodeLoginCmd = &cobra.Command{
	Use:   "login CLUSTER NODE",
	Short: "Show the address a node can be reached on",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		internal, _ := cmd.Flags().GetBool("internal")
		return withApp(func(a *app) error {
			login, err := a.ops.GetRemoteLogin(cmd.Context(), args[0], args[1], internal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d\n", login.IPAddress, login.Port)
			return nil
		})
	},
}

var nodeSSHCmd = &cobra.Command{
	Use:   "ssh CLUSTER NODE",
	Short: "Create a user on a node and print the ssh command to connect",
	Long: `Create a user on a node and print the ssh command that connects to it.

By default the Spark web UI (8080), the master UI (4040) and Jupyter
(8888) are forwarded to localhost.

Without --ssh-key or --password the user is given the cluster's own key
pair, whose private key is written to --key-out.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		internal, _ := cmd.Flags().GetBool("internal")
		noForward, _ := cmd.Flags().GetBool("no-forward")
		publicKey, err := readPublicKey(cmd)
		if err != nil {
			return err
		}

		var forwards []types.PortForwardingSpecification
		if !noForward {
			forwards = append(forwards, remotelogin.DefaultForwards...)
		}
		extra, _ := cmd.Flags().GetStringSlice("forward")
		for _, f := range extra {
			spec, err := parseForward(f)
			if err != nil {
				return err
			}
			forwards = append(forwards, spec)
		}

		keyOut, _ := cmd.Flags().GetString("key-out")

		return withApp(func(a *app) error {
			if publicKey == "" && password == "" {
				kp, err := a.ops.ClusterKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := os.WriteFile(keyOut, kp.PrivateKeyPEM, 0600); err != nil {
					return fmt.Errorf("failed to write private key: %v", err)
				}
				publicKey = kp.PublicKey
				fmt.Fprintf(cmd.ErrOrStderr(), "Private key: %s\n", keyOut)
			}
			spec, err := a.ops.SSHIntoNode(cmd.Context(), args[0], args[1], username, publicKey, password, internal, forwards)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), spec.Command(username))
			return nil
		})
	},
}

func init() {
	nodeCmd.AddCommand(nodeRunCmd)
	nodeCmd.AddCommand(nodeLoginCmd)
	nodeCmd.AddCommand(nodeSSHCmd)

	addRunFlags(nodeRunCmd)

	nodeLoginCmd.Flags().Bool("internal", false, "Resolve the node's internal address")

	nodeSSHCmd.Flags().String("username", "", "User to create on the node")
	nodeSSHCmd.Flags().String("ssh-key", "", "Public key, or a path to one")
	nodeSSHCmd.Flags().String("password", "", "Password for the user")
	nodeSSHCmd.Flags().String("key-out", "burrow_id_rsa", "Where to write the cluster's private key")
	nodeSSHCmd.Flags().Bool("internal", false, "Connect on the node's internal address")
	nodeSSHCmd.Flags().Bool("no-forward", false, "Do not forward the default web UI ports")
	nodeSSHCmd.Flags().StringSlice("forward", nil, "Extra port forward LOCAL:REMOTE")
	_ = nodeSSHCmd.MarkFlagRequired("username")
}

// readPublicKey returns the --ssh-key flag, reading it from disk when it
// names a file
func readPublicKey(cmd *cobra.Command) (string, error) {
	key, _ := cmd.Flags().GetString("ssh-key")
	if key == "" {
		return "", nil
	}
	if data, err := os.ReadFile(key); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	return key, nil
}

func parseForward(s string) (types.PortForwardingSpecification, error) {
	var spec types.PortForwardingSpecification
	if _, err := fmt.Sscanf(s, "%d:%d", &spec.LocalPort, &spec.RemotePort); err != nil {
		return spec, fmt.Errorf("invalid forward %q, expected LOCAL:REMOTE", s)
	}
	return spec, nil
}
