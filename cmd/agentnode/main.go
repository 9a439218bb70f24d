// Command agentnode is the minimal host process that starts one of the
// three Runtime Backends (spec §6) as a standalone process: in-process
// (for smoke-testing a hierarchy locally), local-actor (a single durable
// process), or cluster (a Raft-replicated virtual-actor node). It carries
// no business-logic CLI surface of its own — spec.md §1 explicitly keeps
// HTTP/CLI surfaces out of core scope — it only starts and stops a
// runtime, grounded on Warren's cmd/warren root command shape
// (cobra.Command tree, persistent log-level/log-json flags, a
// cobra.OnInitialize hook).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/runtime/cluster"
	"github.com/cuemby/nexus/pkg/runtime/inprocess"
	"github.com/cuemby/nexus/pkg/runtime/localactor"
	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags at build time, matching Warren's own
	// cmd/warren version plumbing.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agentnode",
	Short:   "nexus agent hierarchy host process",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "If set, serve Prometheus metrics on this address")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(inprocessCmd, localactorCmd, clusterCmd, runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start whichever backend a RuntimeConfig YAML file names",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := LoadRuntimeConfig(path)
		if err != nil {
			return err
		}
		serveMetricsIfConfigured(cmd)

		switch cfg.Backend {
		case "inprocess", "":
			backend := inprocess.New(false)
			log.Logger.Info().Msg("in-process runtime started from config")
			_ = backend
		case "localactor":
			lacfg := localactor.DefaultConfig(cfg.DataDir)
			if cfg.PoolSize > 0 {
				lacfg.PoolSize = cfg.PoolSize
			}
			backend, err := localactor.New(lacfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			log.Logger.Info().Str("data_dir", cfg.DataDir).Msg("local-actor runtime started from config")
		case "cluster":
			backend, err := cluster.New(cluster.NodeConfig{
				NodeID:    cfg.Cluster.NodeID,
				BindAddr:  cfg.Cluster.RaftAddr,
				DataDir:   cfg.DataDir,
				Bootstrap: cfg.Cluster.Bootstrap,
			}, cfg.Cluster.GRPCAddr, nil)
			if err != nil {
				return err
			}
			defer backend.Shutdown()
			log.Logger.Info().Str("node_id", cfg.Cluster.NodeID).Msg("cluster node started from config")
		default:
			return fmt.Errorf("agentnode: unknown backend %q in config", cfg.Backend)
		}

		waitForShutdown()
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "agentnode.yaml", "Path to a RuntimeConfig YAML file")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func serveMetricsIfConfigured(cmd *cobra.Command) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	metrics.SetVersion(Version)
	mux := metricsMux()
	go func() {
		if err := serveHTTP(addr, mux); err != nil {
			log.Logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}

var inprocessCmd = &cobra.Command{
	Use:   "inprocess",
	Short: "Start the in-process Runtime Backend (no persistence, no network)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sourced, _ := cmd.Flags().GetBool("event-sourced")
		serveMetricsIfConfigured(cmd)

		backend := inprocess.New(sourced)
		log.Logger.Info().Bool("event_sourced", sourced).Msg("in-process runtime started")
		defer func() {
			_ = backend
		}()

		waitForShutdown()
		return nil
	},
}

func init() {
	inprocessCmd.Flags().Bool("event-sourced", false, "Give the runtime Manager an in-memory Event Store (hosted agents are not wrapped with event sourcing)")
}

var localactorCmd = &cobra.Command{
	Use:   "localactor",
	Short: "Start the local-actor Runtime Backend (single process, durable Event Store)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		poolSize, _ := cmd.Flags().GetInt("pool-size")
		serveMetricsIfConfigured(cmd)

		cfg := localactor.DefaultConfig(dataDir)
		cfg.PoolSize = poolSize
		backend, err := localactor.New(cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		log.Logger.Info().Str("data_dir", dataDir).Int("pool_size", poolSize).Msg("local-actor runtime started")
		waitForShutdown()
		return nil
	},
}

func init() {
	localactorCmd.Flags().String("data-dir", "./data", "Directory for the BoltDB-backed Event Store")
	localactorCmd.Flags().Int("pool-size", 8, "Bounded worker pool width for spawn/despawn")
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Start a clustered virtual-actor Runtime Backend node",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		raftAddr, _ := cmd.Flags().GetString("raft-addr")
		grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")
		serveMetricsIfConfigured(cmd)

		backend, err := cluster.New(cluster.NodeConfig{
			NodeID:    nodeID,
			BindAddr:  raftAddr,
			DataDir:   dataDir,
			Bootstrap: bootstrap,
		}, grpcAddr, nil)
		if err != nil {
			return err
		}
		defer backend.Shutdown()

		log.Logger.Info().Str("node_id", nodeID).Str("raft_addr", raftAddr).Str("grpc_addr", grpcAddr).Msg("cluster node started")
		waitForShutdown()
		return nil
	},
}

func init() {
	clusterCmd.Flags().String("node-id", "node-1", "Raft server id for this node")
	clusterCmd.Flags().String("raft-addr", "127.0.0.1:7000", "Raft transport bind address")
	clusterCmd.Flags().String("grpc-addr", "127.0.0.1:7001", "gRPC envelope-delivery bind address")
	clusterCmd.Flags().String("data-dir", "./data", "Directory for Raft and Event Store data")
	clusterCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new single-voter cluster")
}
