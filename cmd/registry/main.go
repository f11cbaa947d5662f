// Command registry runs the standalone membership service of
// spec.md §4.1: a REP socket on reference_port (default 5559) answering
// register/list/heartbeat, with a background sweeper evicting stale
// members.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"distributed-chat/internal/config"
	"distributed-chat/internal/fabric"
	"distributed-chat/internal/registry"
)

func main() {
	var port int
	var host string
	var evictSeconds int
	var sweepSeconds int

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "run the cluster membership registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			entry := logrus.NewEntry(log)

			addr := config.ReplicationAddr(host, port)
			rs, err := fabric.NewRequestServer(addr)
			if err != nil {
				return fmt.Errorf("bind registry socket %s: %w", addr, err)
			}
			defer rs.Close()

			srv := registry.New(entry, time.Duration(evictSeconds)*time.Second)
			srv.StartSweeper(time.Duration(sweepSeconds) * time.Second)
			defer srv.Stop()

			entry.WithField("addr", addr).Info("registry listening")
			return srv.Serve(rs)
		},
	}

	cmd.Flags().IntVar(&port, "port", 5559, "registry REP port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "registry bind host")
	cmd.Flags().IntVar(&evictSeconds, "evict-seconds", 10, "T_evict: seconds before a silent member is evicted")
	cmd.Flags().IntVar(&sweepSeconds, "sweep-seconds", 5, "how often the eviction sweeper runs")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
