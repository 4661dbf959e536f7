package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/cluster"
	"github.com/cuemby/burrow/pkg/clusterdata"
)

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Operate on every node of a cluster",
}

var clusterRunCmd = &cobra.Command{
	Use:   "run CLUSTER COMMAND...",
	Short: "Run a command on the nodes of a cluster",
	Long: `Run a command on the nodes of a cluster as a temporary user.

Every node runs the command concurrently. A node that fails does not
affect the others; the output of each node is printed in node order.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			results, err := a.ops.Run(cmd.Context(), args[0], strings.Join(args[1:], " "), opts)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		})
	},
}

var clusterCopyCmd = &cobra.Command{
	Use:   "copy CLUSTER SOURCE DESTINATION",
	Short: "Copy a local file to the nodes of a cluster",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptions(cmd)
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			results, err := a.ops.Copy(cmd.Context(), args[0], args[1], args[2], opts)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		})
	},
}

var clusterGetCmd = &cobra.Command{
	Use:   "get CLUSTER",
	Short: "Show a cluster and its nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			c, err := a.ops.GetCluster(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Cluster: %s\n", c.ID)
			fmt.Fprintf(w, "  VM size: %s\n", c.VMSize)
			fmt.Fprintf(w, "  GPU enabled: %t\n", c.GPUEnabled)
			if c.Toolkit != "" {
				fmt.Fprintf(w, "  Toolkit: %s\n", c.Toolkit)
			}
			fmt.Fprintf(w, "  Nodes: %d\n\n", len(c.Nodes))

			fmt.Fprintf(w, "%-24s %-20s %-16s %s\n", "NODE", "STATE", "IP", "MASTER")
			for _, id := range c.NodeIDs() {
				n := c.Node(id)
				master := ""
				if id == c.MasterNodeID {
					master = "*"
				}
				fmt.Fprintf(w, "%-24s %-20s %-16s %s\n", n.ID, n.State, n.InternalIP, master)
			}
			return nil
		})
	},
}

var clusterConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration stored for a cluster",
}

var clusterConfigShowCmd = &cobra.Command{
	Use:   "show CLUSTER",
	Short: "Show the configuration a cluster was created with",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			c, err := a.ops.GetConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(c)
		})
	},
}

var clusterConfigSetCmd = &cobra.Command{
	Use:   "set CLUSTER FILE",
	Short: "Store a cluster configuration read from a YAML file",
	Long: `Store a cluster configuration read from a YAML file.

The file's id may be omitted; it must match CLUSTER when present.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := readClusterConfig(args[1], args[0])
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			if err := a.ops.SetConfig(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: configuration stored\n", c.ClusterID)
			return nil
		})
	},
}

var clusterConfigDeleteCmd = &cobra.Command{
	Use:   "delete CLUSTER",
	Short: "Delete the configuration and key pair stored for a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.ops.DeleteConfig(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: cluster data deleted\n", args[0])
			return nil
		})
	},
}

var clusterHealthCmd = &cobra.Command{
	Use:   "health CLUSTER",
	Short: "Check that a cluster's nodes are reachable",
	Long: `Check that a cluster's nodes accept SSH connections, or with --http-port
that a web UI answers on each node's internal address.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, _ := cmd.Flags().GetStringSlice("node")
		internal, _ := cmd.Flags().GetBool("internal")
		httpPort, _ := cmd.Flags().GetInt("http-port")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		return withApp(func(a *app) error {
			results, err := a.ops.CheckHealth(cmd.Context(), args[0], cluster.HealthOptions{
				NodeIDs:  nodes,
				Internal: internal,
				HTTPPort: httpPort,
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			unhealthy := 0
			for _, r := range results {
				mark := "✓"
				if !r.Healthy {
					mark = "✗"
					unhealthy++
				}
				fmt.Fprintf(w, "%s %-24s %-5s %-8s %s\n", mark, r.NodeID, r.Type, r.Duration.Round(time.Millisecond), r.Message)
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d nodes unhealthy", unhealthy, len(results))
			}
			return nil
		})
	},
}

func init() {
	clusterCmd.AddCommand(clusterRunCmd)
	clusterCmd.AddCommand(clusterHealthCmd)
	clusterCmd.AddCommand(clusterCopyCmd)
	clusterCmd.AddCommand(clusterGetCmd)
	clusterCmd.AddCommand(clusterConfigCmd)
	clusterConfigCmd.AddCommand(clusterConfigShowCmd)
	clusterConfigCmd.AddCommand(clusterConfigSetCmd)
	clusterConfigCmd.AddCommand(clusterConfigDeleteCmd)

	clusterHealthCmd.Flags().StringSlice("node", nil, "Restrict to these node ids (default: every node)")
	clusterHealthCmd.Flags().Bool("internal", false, "Probe node internal addresses")
	clusterHealthCmd.Flags().Int("http-port", 0, "Check a web UI on this port instead of SSH")
	clusterHealthCmd.Flags().Duration("timeout", 5*time.Second, "Per-node timeout")

	for _, c := range []*cobra.Command{clusterRunCmd, clusterCopyCmd} {
		addRunFlags(c)
		c.Flags().StringSlice("node", nil, "Restrict to these node ids (default: every node)")
	}
}

func addRunFlags(c *cobra.Command) {
	c.Flags().String("container", "", "Run inside this container on each node")
	c.Flags().Bool("internal", false, "Connect on node internal addresses")
	c.Flags().Duration("timeout", 0, "Per-node timeout (default from configuration)")
}

func runOptions(cmd *cobra.Command) (cluster.RunOptions, error) {
	container, _ := cmd.Flags().GetString("container")
	internal, _ := cmd.Flags().GetBool("internal")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout < 0 {
		return cluster.RunOptions{}, fmt.Errorf("--timeout must not be negative")
	}
	if timeout == 0 {
		timeout = cfg.Fanout.Timeout
	}

	opts := cluster.RunOptions{Container: container, Internal: internal, Timeout: timeout}
	if cmd.Flags().Lookup("node") != nil {
		opts.NodeIDs, _ = cmd.Flags().GetStringSlice("node")
	}
	return opts, nil
}

// readClusterConfig parses a cluster configuration file, filling in the
// cluster id when the file leaves it out
func readClusterConfig(path, clusterID string) (*clusterdata.ClusterConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var c clusterdata.ClusterConfiguration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if c.ClusterID == "" {
		c.ClusterID = clusterID
	}
	if c.ClusterID != clusterID {
		return nil, fmt.Errorf("%s describes cluster %s, not %s", path, c.ClusterID, clusterID)
	}
	return &c, nil
}
