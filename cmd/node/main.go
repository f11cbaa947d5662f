// Command node runs one replicated application process (spec.md §1).
// node_id and port are positional arguments per spec.md §6; every
// other address/timeout comes from environment variables, an optional
// --config YAML file, or the compiled-in defaults.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"distributed-chat/internal/config"
	"distributed-chat/internal/node"
)

func main() {
	var configPath string
	var host string
	var dataDir string

	cmd := &cobra.Command{
		Use:   "node <node_id> [port]",
		Short: "run one replicated chat node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("node_id must be an integer: %w", err)
			}
			port := 5555
			if len(args) == 2 {
				port, err = strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("port must be an integer: %w", err)
				}
			}

			cluster, err := config.LoadCluster(configPath)
			if err != nil {
				return err
			}
			cluster = cluster.ApplyEnv()
			if dataDir != "" {
				cluster.DataDir = dataDir
			} else {
				cluster.DataDir = fmt.Sprintf("%s/node-%d", cluster.DataDir, nodeID)
			}

			log := logrus.New()
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			entry := logrus.NewEntry(log)

			n, err := node.New(config.Node{ID: nodeID, Port: port, Host: host}, cluster, entry)
			if err != nil {
				return fmt.Errorf("construct node: %w", err)
			}
			return n.Start()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to cluster config YAML")
	cmd.Flags().StringVar(&host, "host", "localhost", "this node's advertised host")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the persistence directory")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
