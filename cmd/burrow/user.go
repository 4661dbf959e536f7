package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/security"
)

// User commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage OS users on cluster nodes",
}

var userCreateCmd = &cobra.Command{
	Use:   "create CLUSTER",
	Short: "Create a user on one node or every node of a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		generate, _ := cmd.Flags().GetBool("generate-password")
		nodes, _ := cmd.Flags().GetStringSlice("node")
		publicKey, err := readPublicKey(cmd)
		if err != nil {
			return err
		}
		if generate {
			if password != "" {
				return fmt.Errorf("--password and --generate-password are mutually exclusive")
			}
			if password, err = security.GeneratePassword(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password: %s\n", password)
		}

		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if len(nodes) == 1 {
				if err := a.ops.Credentials.CreateUser(ctx, args[0], nodes[0], username, publicKey, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: created %s\n", nodes[0], username)
				return nil
			}

			c, err := a.ops.GetCluster(ctx, args[0])
			if err != nil {
				return err
			}
			report, err := a.ops.Credentials.CreateUserOnCluster(ctx, c, nodes, username, publicKey, password)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), "created "+username, report)
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete CLUSTER",
	Short: "Delete a user from one node or every node of a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		nodes, _ := cmd.Flags().GetStringSlice("node")

		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if len(nodes) == 1 {
				if err := a.ops.Credentials.DeleteUser(ctx, args[0], nodes[0], username); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: deleted %s\n", nodes[0], username)
				return nil
			}

			c, err := a.ops.GetCluster(ctx, args[0])
			if err != nil {
				return err
			}
			report, err := a.ops.Credentials.DeleteUserOnCluster(ctx, c, nodes, username)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), "deleted "+username, report)
		})
	},
}

var userGenerateCmd = &cobra.Command{
	Use:   "generate CLUSTER",
	Short: "Generate a user with a fresh key pair on nodes of a cluster",
	Long: `Generate a username and an RSA key pair and create that user on one
node or every node of a cluster. The private key is written to --key-out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, _ := cmd.Flags().GetStringSlice("node")
		keyOut, _ := cmd.Flags().GetString("key-out")

		return withApp(func(a *app) error {
			ctx := cmd.Context()
			c, err := a.ops.GetCluster(ctx, args[0])
			if err != nil {
				return err
			}
			cred, report, err := a.ops.Credentials.GenerateUserOnCluster(ctx, c, nodes)
			if err != nil {
				return err
			}

			if err := os.WriteFile(keyOut, cred.PrivateKeyPEM, 0600); err != nil {
				return fmt.Errorf("failed to write private key: %v", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Username: %s\n", cred.Username)
			fmt.Fprintf(w, "Private key: %s\n\n", keyOut)
			return printReport(w, "created "+cred.Username, report)
		})
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userGenerateCmd)

	for _, c := range []*cobra.Command{userCreateCmd, userDeleteCmd, userGenerateCmd} {
		c.Flags().StringSlice("node", nil, "Node ids (default: every node)")
	}
	for _, c := range []*cobra.Command{userCreateCmd, userDeleteCmd} {
		c.Flags().String("username", "", "Username")
		_ = c.MarkFlagRequired("username")
	}
	userCreateCmd.Flags().String("ssh-key", "", "Public key, or a path to one")
	userCreateCmd.Flags().String("password", "", "Password for the user")
	userCreateCmd.Flags().Bool("generate-password", false, "Generate a random password and print it")
	userGenerateCmd.Flags().String("key-out", "burrow_id_rsa", "Where to write the private key")
}
